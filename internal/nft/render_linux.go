//go:build linux

package nft

import (
	"fmt"
	"net"

	"github.com/google/nftables"
	"github.com/google/nftables/binaryutil"
	"github.com/google/nftables/expr"
	"golang.org/x/sys/unix"

	"github.com/rampart-fw/rampart/internal/compile"
	"github.com/rampart-fw/rampart/internal/policy"
)

const (
	// IPv4 header offsets (RFC 791).
	ipv4SrcOffset = 12
	ipv4DstOffset = 16
	ipv4AddrLen   = 4

	// Transport header port offsets, identical for TCP and UDP.
	srcPortOffset = 0
	dstPortOffset = 2
	portLen       = 2

	nfprotoIPv4 = unix.NFPROTO_IPV4
)

// renderRule translates a compiled filter's conditions and action into
// nftables expressions. The expression order mirrors nft's own output:
// meta checks, network header, transport header, socket, verdict.
func (t *txn) renderRule(f *compile.CompiledFilter) ([]expr.Any, error) {
	var exprs []expr.Any

	// The table is inet: pin every rule to IPv4 so nothing here ever
	// matches IPv6 traffic.
	exprs = append(exprs,
		&expr.Meta{Key: expr.MetaKeyNFPROTO, Register: 1},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte{nfprotoIPv4}},
	)

	hasPorts := f.LocalPorts != nil || f.RemotePorts != nil
	switch f.Protocol {
	case policy.ProtocolTCP:
		exprs = append(exprs, l4ProtoMatch(unix.IPPROTO_TCP)...)
	case policy.ProtocolUDP:
		exprs = append(exprs, l4ProtoMatch(unix.IPPROTO_UDP)...)
	case policy.ProtocolAny:
		// No protocol condition: the filter matches both TCP and UDP.
		// When port conditions are present the match must still be
		// scoped to protocols that carry ports, otherwise the port
		// bytes would be compared against unrelated transport headers.
		if hasPorts {
			lookup, err := t.anonProtoSet()
			if err != nil {
				return nil, err
			}
			exprs = append(exprs, lookup...)
		}
	default:
		return nil, fmt.Errorf("unrenderable protocol %q", f.Protocol)
	}

	// Direction decides which side of the packet each endpoint is on:
	// inbound traffic arrives at the local endpoint (destination),
	// outbound traffic leaves it (source).
	localIsDst := f.Direction == policy.DirectionInbound

	if f.LocalIP != "" {
		m, err := ipv4Match(f.LocalIP, !localIsDst)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, m...)
	}
	if f.RemoteIP != "" {
		m, err := ipv4Match(f.RemoteIP, localIsDst)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, m...)
	}

	if f.LocalPorts != nil {
		exprs = append(exprs, portMatch(*f.LocalPorts, !localIsDst)...)
	}
	if f.RemotePorts != nil {
		exprs = append(exprs, portMatch(*f.RemotePorts, localIsDst)...)
	}

	if f.Process != "" {
		exprs = append(exprs, t.processMatch(f.Process)...)
	}

	verdict := expr.VerdictDrop
	if f.Action == policy.ActionAllow {
		verdict = expr.VerdictAccept
	}
	exprs = append(exprs, &expr.Verdict{Kind: verdict})

	return exprs, nil
}

func l4ProtoMatch(proto byte) []expr.Any {
	return []expr.Any{
		&expr.Meta{Key: expr.MetaKeyL4PROTO, Register: 1},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte{proto}},
	}
}

// anonProtoSet builds a {tcp, udp} anonymous set lookup bound to this
// transaction's table.
func (t *txn) anonProtoSet() ([]expr.Any, error) {
	set := &nftables.Set{
		Table:     t.table,
		Anonymous: true,
		Constant:  true,
		KeyType:   nftables.TypeInetProto,
	}
	elements := []nftables.SetElement{
		{Key: []byte{unix.IPPROTO_TCP}},
		{Key: []byte{unix.IPPROTO_UDP}},
	}
	if err := t.addSet(set, elements); err != nil {
		return nil, fmt.Errorf("add protocol set: %w", err)
	}
	return []expr.Any{
		&expr.Meta{Key: expr.MetaKeyL4PROTO, Register: 1},
		&expr.Lookup{SourceRegister: 1, SetID: set.ID, SetName: set.Name},
	}, nil
}

// ipv4Match loads the source or destination address from the network
// header, applies the prefix mask when the condition is a CIDR, and
// compares against the network address.
func ipv4Match(cidr string, isSrc bool) ([]expr.Any, error) {
	_, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		ip := net.ParseIP(cidr)
		if ip == nil || ip.To4() == nil {
			return nil, fmt.Errorf("unrenderable address %q", cidr)
		}
		ipNet = &net.IPNet{IP: ip.To4(), Mask: net.CIDRMask(32, 32)}
	}
	if ipNet.IP.To4() == nil {
		return nil, fmt.Errorf("unrenderable address %q", cidr)
	}

	offset := uint32(ipv4DstOffset)
	if isSrc {
		offset = ipv4SrcOffset
	}

	exprs := []expr.Any{
		&expr.Payload{
			DestRegister: 1,
			Base:         expr.PayloadBaseNetworkHeader,
			Offset:       offset,
			Len:          ipv4AddrLen,
		},
	}

	mask := ipNet.Mask
	if ones, bits := mask.Size(); ones < bits {
		exprs = append(exprs, &expr.Bitwise{
			SourceRegister: 1,
			DestRegister:   1,
			Len:            ipv4AddrLen,
			Mask:           mask,
			Xor:            make([]byte, ipv4AddrLen),
		})
	}

	exprs = append(exprs, &expr.Cmp{
		Op:       expr.CmpOpEq,
		Register: 1,
		Data:     ipNet.IP.Mask(mask).To4(),
	})
	return exprs, nil
}

// portMatch loads the source or destination port from the transport
// header and compares it against a single port or an inclusive range.
func portMatch(r policy.PortRange, isSrc bool) []expr.Any {
	offset := uint32(dstPortOffset)
	if isSrc {
		offset = srcPortOffset
	}

	exprs := []expr.Any{
		&expr.Payload{
			DestRegister: 1,
			Base:         expr.PayloadBaseTransportHeader,
			Offset:       offset,
			Len:          portLen,
		},
	}

	if r.Lo == r.Hi {
		exprs = append(exprs, &expr.Cmp{
			Op:       expr.CmpOpEq,
			Register: 1,
			Data:     binaryutil.BigEndian.PutUint16(r.Lo),
		})
	} else {
		exprs = append(exprs, &expr.Range{
			Op:       expr.CmpOpEq,
			Register: 1,
			FromData: binaryutil.BigEndian.PutUint16(r.Lo),
			ToData:   binaryutil.BigEndian.PutUint16(r.Hi),
		})
	}
	return exprs
}

// processMatch restricts a filter to sockets owned by the cgroup of the
// given executable. An executable with no resolvable cgroup renders a
// condition that matches nothing: the filter still installs, it just
// matches zero traffic, which is the declared behavior for rules naming
// absent processes.
func (t *txn) processMatch(processPath string) []expr.Any {
	id, level, ok := t.backend.procs.Resolve(processPath)
	if !ok {
		id, level = 0, 1
	}
	return []expr.Any{
		&expr.Socket{Key: expr.SocketKeyCgroupv2, Level: level, Register: 1},
		&expr.Cmp{
			Op:       expr.CmpOpEq,
			Register: 1,
			Data:     binaryutil.NativeEndian.PutUint64(id),
		},
	}
}
