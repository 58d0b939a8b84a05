package fsp

import "encoding/binary"

// NodeAddr identifies a list node by page and byte offset within that
// page. {0,0} is the nil sentinel, matching InnoDB's FIL_NULL convention.
type NodeAddr struct {
	Page   uint32
	Offset uint16
}

func (a NodeAddr) IsNil() bool { return a.Page == 0 && a.Offset == 0 }

var NilAddr = NodeAddr{}

// ListBase is the {length, first, last} header of an on-page doubly
// linked list (spec §3/§4.2).
type ListBase struct {
	Length uint32
	First  NodeAddr
	Last   NodeAddr
}

// ListBaseSize is the on-disk size of one ListBase: 4 (length) + 2x6 (addr).
const ListBaseSize = 4 + 2*6

// NodeSize is the on-disk size of one ListNode: prev+next addrs.
const NodeSize = 2 * 6

func encodeAddr(buf []byte, a NodeAddr) {
	binary.BigEndian.PutUint32(buf[0:4], a.Page)
	binary.BigEndian.PutUint16(buf[4:6], a.Offset)
}

func decodeAddr(buf []byte) NodeAddr {
	return NodeAddr{Page: binary.BigEndian.Uint32(buf[0:4]), Offset: binary.BigEndian.Uint16(buf[4:6])}
}

// EncodeListBase serializes b into a ListBaseSize-byte buffer.
func EncodeListBase(b ListBase) []byte {
	buf := make([]byte, ListBaseSize)
	binary.BigEndian.PutUint32(buf[0:4], b.Length)
	encodeAddr(buf[4:10], b.First)
	encodeAddr(buf[10:16], b.Last)
	return buf
}

func DecodeListBase(buf []byte) ListBase {
	return ListBase{
		Length: binary.BigEndian.Uint32(buf[0:4]),
		First:  decodeAddr(buf[4:10]),
		Last:   decodeAddr(buf[10:16]),
	}
}

// ListNode is the {prev, next} pair stored at a NodeAddr.
type ListNode struct {
	Prev, Next NodeAddr
}

func EncodeListNode(n ListNode) []byte {
	buf := make([]byte, NodeSize)
	encodeAddr(buf[0:6], n.Prev)
	encodeAddr(buf[6:12], n.Next)
	return buf
}

func DecodeListNode(buf []byte) ListNode {
	return ListNode{Prev: decodeAddr(buf[0:6]), Next: decodeAddr(buf[6:12])}
}

// flstReadNode fetches the page at addr.Page and decodes its node, after
// a bounds check (spec §4.2).
func flstReadNode(m *MTR, space *Space, addr NodeAddr) (ListNode, *Page, error) {
	if err := space.boundsCheck(addr); err != nil {
		return ListNode{}, nil, err
	}
	p, err := m.GetPage(space, addr.Page, LatchX)
	if err != nil {
		return ListNode{}, nil, err
	}
	return DecodeListNode(p.ReadAt(int(addr.Offset), NodeSize)), p, nil
}

func flstWriteNode(m *MTR, p *Page, addr NodeAddr, n ListNode, flags WriteFlags) {
	m.Write(p, int(addr.Offset), EncodeListNode(n), flags)
}

// FlstInit zeroes a list base to the empty state.
func FlstInit(base *ListBase) {
	*base = ListBase{}
}

// FlstAddLast appends the node at addr to the list, writing both the
// base and the linked neighbor nodes within the caller's MTR.
func FlstAddLast(m *MTR, space *Space, base *ListBase, basePage *Page, baseOffset int, addr NodeAddr) error {
	if base.Length == 0 {
		base.First = addr
	} else {
		lastNode, lastPage, err := flstReadNode(m, space, base.Last)
		if err != nil {
			return err
		}
		lastNode.Next = addr
		flstWriteNode(m, lastPage, base.Last, lastNode, MaybeNop)

		thisNode, thisPage, err := flstReadNode(m, space, addr)
		if err != nil {
			return err
		}
		thisNode.Prev = base.Last
		flstWriteNode(m, thisPage, addr, thisNode, Forced)
	}
	base.Last = addr
	base.Length++
	m.Write(basePage, baseOffset, EncodeListBase(*base), Forced)
	return nil
}

// FlstAddFirst prepends addr to the list.
func FlstAddFirst(m *MTR, space *Space, base *ListBase, basePage *Page, baseOffset int, addr NodeAddr) error {
	if base.Length == 0 {
		base.Last = addr
	} else {
		firstNode, firstPage, err := flstReadNode(m, space, base.First)
		if err != nil {
			return err
		}
		firstNode.Prev = addr
		flstWriteNode(m, firstPage, base.First, firstNode, MaybeNop)

		thisNode, thisPage, err := flstReadNode(m, space, addr)
		if err != nil {
			return err
		}
		thisNode.Next = base.First
		flstWriteNode(m, thisPage, addr, thisNode, Forced)
	}
	base.First = addr
	base.Length++
	m.Write(basePage, baseOffset, EncodeListBase(*base), Forced)
	return nil
}

// FlstRemove unlinks addr from the list.
func FlstRemove(m *MTR, space *Space, base *ListBase, basePage *Page, baseOffset int, addr NodeAddr) error {
	node, _, err := flstReadNode(m, space, addr)
	if err != nil {
		return err
	}

	if node.Prev.IsNil() {
		base.First = node.Next
	} else {
		prevNode, prevPage, err := flstReadNode(m, space, node.Prev)
		if err != nil {
			return err
		}
		prevNode.Next = node.Next
		flstWriteNode(m, prevPage, node.Prev, prevNode, Forced)
	}

	if node.Next.IsNil() {
		base.Last = node.Prev
	} else {
		nextNode, nextPage, err := flstReadNode(m, space, node.Next)
		if err != nil {
			return err
		}
		nextNode.Prev = node.Prev
		flstWriteNode(m, nextPage, node.Next, nextNode, Forced)
	}

	base.Length--
	m.Write(basePage, baseOffset, EncodeListBase(*base), Forced)
	return nil
}

// FlstGetFirst returns the list's first node address.
func FlstGetFirst(base ListBase) NodeAddr { return base.First }

// FlstGetNext returns the node following addr.
func FlstGetNext(m *MTR, space *Space, addr NodeAddr) (NodeAddr, error) {
	node, _, err := flstReadNode(m, space, addr)
	if err != nil {
		return NilAddr, err
	}
	return node.Next, nil
}
