package membership

import (
	"fmt"
	"strconv"
	"strings"
)

// JoinFlags is the fJoinOptions bitmask of Win32_ComputerSystem.JoinDomainOrWorkGroup.
type JoinFlags uint32

const (
	JoinDomain          JoinFlags = 0x1
	AccountCreate       JoinFlags = 0x2
	AccountDelete       JoinFlags = 0x4
	Win9xUpgrade        JoinFlags = 0x10
	DomainJoinIfJoined  JoinFlags = 0x20
	JoinUnsecure        JoinFlags = 0x40
	MachinePasswordPass JoinFlags = 0x80
	DeferSPNSet         JoinFlags = 0x100
	JoinWithNewName     JoinFlags = 0x400
	InstallInvocation   JoinFlags = 0x40000
)

var flagNames = []struct {
	flag JoinFlags
	name string
}{
	{JoinDomain, "JOIN_DOMAIN"},
	{AccountCreate, "ACCT_CREATE"},
	{AccountDelete, "ACCT_DELETE"},
	{Win9xUpgrade, "WIN9X_UPGRADE"},
	{DomainJoinIfJoined, "DOMAIN_JOIN_IF_JOINED"},
	{JoinUnsecure, "JOIN_UNSECURE"},
	{MachinePasswordPass, "MACHINE_PWD_PASSED"},
	{DeferSPNSet, "DEFER_SPN_SET"},
	{JoinWithNewName, "JOIN_WITH_NEW_NAME"},
	{InstallInvocation, "INSTALL_INVOCATION"},
}

// ParseJoinFlags parses a decimal bitmask such as "3".
func ParseJoinFlags(s string) (JoinFlags, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid join options %q: %w", s, err)
	}
	return JoinFlags(v), nil
}

// Has reports whether all bits of flag are set.
func (f JoinFlags) Has(flag JoinFlags) bool {
	return f&flag == flag
}

// String lists the set flags, e.g. "JOIN_DOMAIN|ACCT_CREATE".
func (f JoinFlags) String() string {
	var names []string
	rest := f
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			names = append(names, fn.name)
			rest &^= fn.flag
		}
	}
	if rest != 0 {
		names = append(names, fmt.Sprintf("0x%x", uint32(rest)))
	}
	if len(names) == 0 {
		return "0"
	}
	return strings.Join(names, "|")
}
