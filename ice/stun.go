package ice

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"net"
	"strings"
)

// STUN (Session Traversal Utilities for NAT), RFC 5389, with the ICE
// attributes from RFC 8445. Grounded on the teacher's
// internal/ice/stun.go codec, extended per spec.md section 4.1 with
// MESSAGE-INTEGRITY verification, USERNAME validation support, and
// ERROR-CODE/UNKNOWN-ATTRIBUTES encode/decode.

// message classes
const (
	classRequest         uint16 = 0
	classIndication      uint16 = 1
	classSuccessResponse uint16 = 2
	classErrorResponse   uint16 = 3
)

const methodBinding uint16 = 0x1

const (
	headerLength = 20
	magicCookie  = 0x2112A442
)

var magicCookieBytes = [4]byte{0x21, 0x12, 0xA4, 0x42}

const fingerprintXor = 0x5354554e

// softwareName is advertised in the SOFTWARE attribute of every message this
// agent sends, per RFC 5389 section 15.10's recommendation.
const softwareName = "iceagent"

// Attribute types used by this agent.
const (
	attrMappedAddress     uint16 = 0x0001
	attrUsername          uint16 = 0x0006
	attrMessageIntegrity  uint16 = 0x0008
	attrErrorCode         uint16 = 0x0009
	attrUnknownAttributes uint16 = 0x000A
	attrXorMappedAddress  uint16 = 0x0020
	attrPriority          uint16 = 0x0024
	attrUseCandidate      uint16 = 0x0025
	attrSoftware          uint16 = 0x8022
	attrFingerprint       uint16 = 0x8028
	attrIceControlled     uint16 = 0x8029
	attrIceControlling    uint16 = 0x802A
)

type attribute struct {
	Type   uint16
	Length uint16
	Value  []byte
}

// numBytes is the total encoded size of the attribute, header + padded value.
func (a *attribute) numBytes() int {
	return 4 + int(a.Length) + pad4(a.Length)
}

// pad4 returns the number of padding bytes needed to round n up to a
// 4-byte boundary: always 0, 1, 2, or 3.
func pad4(n uint16) int {
	return -int(n) & 3
}

var zeros = make([]byte, 32)

// message is a parsed or to-be-encoded STUN message.
type message struct {
	class         uint16
	method        uint16
	transactionID string // always 12 bytes
	length        uint16 // body length, NOT including the 20-byte header
	attrs         []*attribute
}

func newMessage(class, method uint16, transactionID string) *message {
	if transactionID == "" {
		transactionID = newTransactionID()
	} else if len(transactionID) != 12 {
		panic("ice: invalid STUN transaction id length")
	}
	return &message{class: class, method: method, transactionID: transactionID}
}

func newTransactionID() string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		panic(err) // crypto/rand.Read only fails if the OS source is broken
	}
	return string(buf)
}

func newBindingRequest(transactionID string) *message {
	return newMessage(classRequest, methodBinding, transactionID)
}

func newBindingIndication() *message {
	return newMessage(classIndication, methodBinding, "")
}

func newBindingSuccess(transactionID string) *message {
	return newMessage(classSuccessResponse, methodBinding, transactionID)
}

func newBindingError(transactionID string, code int, reason string) *message {
	m := newMessage(classErrorResponse, methodBinding, transactionID)
	m.addErrorCode(code, reason)
	return m
}

// classify reports whether data looks like a STUN message (first two bits
// of the first byte are zero and the magic cookie is present), per
// spec.md section 4.5. It does NOT validate attributes.
func classify(data []byte) bool {
	if len(data) < headerLength {
		return false
	}
	if data[0]&0xC0 != 0 {
		return false
	}
	return binary.BigEndian.Uint32(data[4:8]) == magicCookie
}

// parseMessage parses a STUN message. Returns (nil, nil) if data does not
// look like a STUN message at all (caller should treat it as application
// data); returns a non-nil error for data that looks like STUN but fails to
// parse (caller should drop it as a protocol error, per spec.md section 7).
func parseMessage(data []byte) (*message, error) {
	if !classify(data) {
		return nil, nil
	}

	length := binary.BigEndian.Uint16(data[2:4])
	if length%4 != 0 {
		return nil, newError(Protocol, "STUN message length %d not a multiple of 4", length)
	}
	if int(length) != len(data)-headerLength {
		return nil, newError(Protocol, "STUN message length %d inconsistent with buffer", length)
	}

	messageType := binary.BigEndian.Uint16(data[0:2])
	class, method := decomposeMessageType(messageType)

	m := &message{
		class:         class,
		method:        method,
		length:        length,
		transactionID: string(data[8:20]),
	}

	b := bytes.NewBuffer(data[headerLength:])
	offset := headerLength
	for b.Len() > 0 {
		if b.Len() < 4 {
			return nil, newError(Protocol, "truncated STUN attribute header")
		}
		a, err := parseAttribute(b)
		if err != nil {
			return nil, err
		}
		if a.Type == attrFingerprint {
			// FINGERPRINT, when present, MUST be the last attribute.
			if b.Len() != 0 {
				return nil, newError(Protocol, "FINGERPRINT is not the last attribute")
			}
			upTo := len(data) - a.numBytes()
			want := crc32.ChecksumIEEE(data[:upTo]) ^ fingerprintXor
			got := binary.BigEndian.Uint32(a.Value)
			if got != want {
				return nil, newError(Protocol, "FINGERPRINT mismatch")
			}
		}
		m.attrs = append(m.attrs, a)
		offset += a.numBytes()
	}

	return m, nil
}

func parseAttribute(b *bytes.Buffer) (*attribute, error) {
	typ := binary.BigEndian.Uint16(b.Next(2))
	length := binary.BigEndian.Uint16(b.Next(2))
	if int(length) > b.Len() {
		return nil, newError(Protocol, "STUN attribute type=%#x length=%d exceeds message", typ, length)
	}
	value := make([]byte, length)
	copy(value, b.Next(int(length)))
	padding := pad4(length)
	if b.Len() < padding {
		return nil, newError(Protocol, "STUN attribute type=%#x truncated padding", typ)
	}
	b.Next(padding)
	return &attribute{Type: typ, Length: length, Value: value}, nil
}

// Bytes encodes the message. Attribute order follows RFC 8445/5389:
// USERNAME, PRIORITY, ICE-CONTROLLED/ICE-CONTROLLING, USE-CANDIDATE,
// XOR-MAPPED-ADDRESS, ERROR-CODE, MESSAGE-INTEGRITY, FINGERPRINT. Callers
// add attributes via the add* helpers in that order; Bytes just serializes
// whatever was added.
func (m *message) Bytes() []byte {
	buf := make([]byte, headerLength+m.length)
	b := bytes.NewBuffer(buf[:0])

	messageType := composeMessageType(m.class, m.method)
	var hdr [headerLength]byte
	binary.BigEndian.PutUint16(hdr[0:2], messageType)
	binary.BigEndian.PutUint16(hdr[2:4], m.length)
	binary.BigEndian.PutUint32(hdr[4:8], magicCookie)
	copy(hdr[8:20], m.transactionID)
	b.Write(hdr[:])

	for _, a := range m.attrs {
		writeAttribute(a, b)
	}
	return b.Bytes()
}

func writeAttribute(a *attribute, b *bytes.Buffer) {
	var hdr [4]byte
	binary.BigEndian.PutUint16(hdr[0:2], a.Type)
	binary.BigEndian.PutUint16(hdr[2:4], a.Length)
	b.Write(hdr[:])
	b.Write(a.Value)
	b.Write(zeros[:pad4(a.Length)])
}

func composeMessageType(class, method uint16) uint16 {
	const classMask1 = 0x0100
	const classMask2 = 0x0010
	const methodMask1 = 0x3e00
	const methodMask2 = 0x00e0
	const methodMask3 = 0x000f
	t := (class<<7)&classMask1 | (class<<4)&classMask2
	t |= (method<<2)&methodMask1 | (method<<1)&methodMask2 | (method & methodMask3)
	return t
}

func decomposeMessageType(t uint16) (uint16, uint16) {
	const classMask1 = 0x0100
	const classMask2 = 0x0010
	const methodMask1 = 0x3e00
	const methodMask2 = 0x00e0
	const methodMask3 = 0x000f
	class := (t&classMask1)>>7 | (t&classMask2)>>4
	method := (t&methodMask1)>>2 | (t&methodMask2)>>1 | (t & methodMask3)
	return class, method
}

func (m *message) addAttribute(t uint16, v []byte) *attribute {
	value := make([]byte, len(v))
	copy(value, v)
	a := &attribute{Type: t, Length: uint16(len(value)), Value: value}
	m.attrs = append(m.attrs, a)
	m.length += uint16(a.numBytes())
	return a
}

func (m *message) attribute(t uint16) *attribute {
	for _, a := range m.attrs {
		if a.Type == t {
			return a
		}
	}
	return nil
}

func (m *message) addUsername(username string) {
	m.addAttribute(attrUsername, []byte(username))
}

func (m *message) username() (string, bool) {
	if a := m.attribute(attrUsername); a != nil {
		return string(a.Value), true
	}
	return "", false
}

func (m *message) addPriority(p uint32) {
	var v [4]byte
	binary.BigEndian.PutUint32(v[:], p)
	m.addAttribute(attrPriority, v[:])
}

func (m *message) priority() (uint32, bool) {
	if a := m.attribute(attrPriority); a != nil && len(a.Value) == 4 {
		return binary.BigEndian.Uint32(a.Value), true
	}
	return 0, false
}

func (m *message) addUseCandidate() {
	m.addAttribute(attrUseCandidate, nil)
}

func (m *message) hasUseCandidate() bool {
	return m.attribute(attrUseCandidate) != nil
}

func (m *message) addIceControlled(tiebreaker uint64) {
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], tiebreaker)
	m.addAttribute(attrIceControlled, v[:])
}

func (m *message) addIceControlling(tiebreaker uint64) {
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], tiebreaker)
	m.addAttribute(attrIceControlling, v[:])
}

func (m *message) iceControlled() (uint64, bool) {
	if a := m.attribute(attrIceControlled); a != nil && len(a.Value) == 8 {
		return binary.BigEndian.Uint64(a.Value), true
	}
	return 0, false
}

func (m *message) iceControlling() (uint64, bool) {
	if a := m.attribute(attrIceControlling); a != nil && len(a.Value) == 8 {
		return binary.BigEndian.Uint64(a.Value), true
	}
	return 0, false
}

func (m *message) addSoftware(s string) {
	m.addAttribute(attrSoftware, []byte(s))
}

// addErrorCode encodes ERROR-CODE per RFC 5389 section 15.6.
func (m *message) addErrorCode(code int, reason string) {
	v := make([]byte, 4+len(reason))
	v[0] = 0
	v[1] = 0
	v[2] = byte(code / 100)
	v[3] = byte(code % 100)
	copy(v[4:], reason)
	m.addAttribute(attrErrorCode, v)
}

func (m *message) errorCode() (code int, reason string, ok bool) {
	a := m.attribute(attrErrorCode)
	if a == nil || len(a.Value) < 4 {
		return 0, "", false
	}
	code = int(a.Value[2])*100 + int(a.Value[3])
	reason = string(a.Value[4:])
	return code, reason, true
}

func (m *message) addUnknownAttributes(types []uint16) {
	v := make([]byte, 2*len(types))
	for i, t := range types {
		binary.BigEndian.PutUint16(v[2*i:2*i+2], t)
	}
	m.addAttribute(attrUnknownAttributes, v)
}

// knownAttributeTypes are the comprehension-required (type < 0x8000)
// attributes this agent understands. Any other comprehension-required
// attribute on an incoming request triggers a 420 Unknown Attribute
// response carrying UNKNOWN-ATTRIBUTES, per RFC 5389 section 7.3.1.
var knownAttributeTypes = map[uint16]bool{
	attrMappedAddress:     true,
	attrUsername:          true,
	attrMessageIntegrity:  true,
	attrErrorCode:         true,
	attrUnknownAttributes: true,
	attrXorMappedAddress:  true,
	attrPriority:          true,
	attrUseCandidate:      true,
}

// unknownComprehensionRequiredAttributes returns the comprehension-required
// attribute types in m that this agent does not understand, preserving
// their order of appearance.
func (m *message) unknownComprehensionRequiredAttributes() []uint16 {
	var unknown []uint16
	for _, a := range m.attrs {
		if a.Type >= 0x8000 {
			continue // comprehension-optional
		}
		if !knownAttributeTypes[a.Type] {
			unknown = append(unknown, a.Type)
		}
	}
	return unknown
}

// setXorMappedAddress encodes XOR-MAPPED-ADDRESS for addr.
func (m *message) setXorMappedAddress(addr Address) {
	var value []byte
	if addr.Family == IPv4 {
		value = make([]byte, 8)
		value[1] = 0x01
		copy(value[4:8], addr.IP[12:16])
	} else {
		value = make([]byte, 20)
		value[1] = 0x02
		copy(value[4:20], addr.IP[:])
	}
	binary.BigEndian.PutUint16(value[2:4], uint16(addr.Port))
	xorBytes(value[2:4], magicCookieBytes[0:2])
	xorBytes(value[4:8], magicCookieBytes[:])
	xorBytes(value[8:], []byte(m.transactionID))
	m.addAttribute(attrXorMappedAddress, value)
}

// mappedAddress reads MAPPED-ADDRESS or XOR-MAPPED-ADDRESS (the latter
// preferred, matching RFC 5389 section 15.2's guidance that new
// implementations use XOR-MAPPED-ADDRESS).
func (m *message) mappedAddress() (Address, bool) {
	if a := m.attribute(attrXorMappedAddress); a != nil {
		return decodeMappedAddress(a.Value, m.transactionID, true)
	}
	if a := m.attribute(attrMappedAddress); a != nil {
		return decodeMappedAddress(a.Value, m.transactionID, false)
	}
	return Address{}, false
}

func decodeMappedAddress(v []byte, transactionID string, doXor bool) (Address, bool) {
	if len(v) < 4 {
		return Address{}, false
	}
	family := v[1]
	port := binary.BigEndian.Uint16(v[2:4])
	var addr Address
	switch family {
	case 0x01:
		if len(v) < 8 {
			return Address{}, false
		}
		addr.Family = IPv4
		copy(addr.IP[12:16], v[4:8])
	case 0x02:
		if len(v) < 20 {
			return Address{}, false
		}
		addr.Family = IPv6
		copy(addr.IP[:], v[4:20])
	default:
		return Address{}, false
	}

	if doXor {
		portXor := make([]byte, 2)
		binary.BigEndian.PutUint16(portXor, port)
		xorBytes(portXor, magicCookieBytes[0:2])
		port = binary.BigEndian.Uint16(portXor)
		if addr.Family == IPv4 {
			xorBytes(addr.IP[12:16], magicCookieBytes[:])
		} else {
			xorBytes(addr.IP[:], append(append([]byte{}, magicCookieBytes[:]...), []byte(transactionID)...))
		}
	}
	addr.Port = int(port)
	return addr, true
}

func xorBytes(dest []byte, xor []byte) {
	for i := range dest {
		dest[i] ^= xor[i]
	}
}

// addMessageIntegrity computes HMAC-SHA1 over everything encoded so far
// (with length rewritten to include the attribute itself), per RFC 5389
// section 15.4.
func (m *message) addMessageIntegrity(key string) {
	sig := hmac.New(sha1.New, []byte(key))
	a := m.addAttribute(attrMessageIntegrity, zeros[0:20])
	b := m.Bytes()
	upTo := len(b) - a.numBytes()
	sig.Write(b[0:upTo])
	copy(a.Value, sig.Sum(nil))
}

// verifyMessageIntegrity recomputes the HMAC over the message as received
// (length field including MESSAGE-INTEGRITY but excluding anything after
// it, including FINGERPRINT) and compares to the attribute's value.
func (m *message) verifyMessageIntegrity(data []byte, key string) bool {
	a := m.attribute(attrMessageIntegrity)
	if a == nil {
		return false
	}

	// Recompute the message length as it would have been if
	// MESSAGE-INTEGRITY were the last attribute, then find that many bytes
	// of header+attributes preceding MESSAGE-INTEGRITY's own header.
	miOffset, ok := m.attributeOffset(data, attrMessageIntegrity)
	if !ok {
		return false
	}

	adjusted := make([]byte, miOffset)
	copy(adjusted, data[:miOffset])
	binary.BigEndian.PutUint16(adjusted[2:4], uint16(miOffset-headerLength+a.numBytes()))

	sig := hmac.New(sha1.New, []byte(key))
	sig.Write(adjusted)
	return hmac.Equal(sig.Sum(nil), a.Value)
}

// attributeOffset returns the byte offset, within data, at which the
// attribute of type t begins (i.e. the offset of its 4-byte TLV header).
func (m *message) attributeOffset(data []byte, t uint16) (int, bool) {
	offset := headerLength
	for offset+4 <= len(data) {
		typ := binary.BigEndian.Uint16(data[offset : offset+2])
		length := binary.BigEndian.Uint16(data[offset+2 : offset+4])
		if typ == t {
			return offset, true
		}
		offset += 4 + int(length) + pad4(length)
	}
	return 0, false
}

// addFingerprint computes CRC32 over everything encoded so far (with length
// rewritten to include the attribute itself), XORed per RFC 5389 15.5.
func (m *message) addFingerprint() {
	a := m.addAttribute(attrFingerprint, zeros[0:4])
	b := m.Bytes()
	upTo := len(b) - a.numBytes()
	crc := crc32.ChecksumIEEE(b[0:upTo])
	binary.BigEndian.PutUint32(a.Value, crc^fingerprintXor)
}

func (m *message) String() string {
	var b strings.Builder
	switch m.class {
	case classRequest:
		b.WriteString("STUN request")
	case classIndication:
		b.WriteString("STUN indication")
	case classSuccessResponse:
		b.WriteString("STUN success response")
	case classErrorResponse:
		b.WriteString("STUN error response")
	}
	if m.method != methodBinding {
		fmt.Fprintf(&b, ", method %#x", m.method)
	}
	fmt.Fprintf(&b, ", tid=%s", hex.EncodeToString([]byte(m.transactionID)))
	if addr, ok := m.mappedAddress(); ok {
		fmt.Fprintf(&b, ", MAPPED-ADDRESS %s", addr)
	}
	if u, ok := m.username(); ok {
		fmt.Fprintf(&b, ", USERNAME %s", u)
	}
	if code, reason, ok := m.errorCode(); ok {
		fmt.Fprintf(&b, ", ERROR-CODE %d %s", code, reason)
	}
	if m.hasUseCandidate() {
		b.WriteString(", USE-CANDIDATE")
	}
	if _, ok := m.iceControlled(); ok {
		b.WriteString(", ICE-CONTROLLED")
	}
	if _, ok := m.iceControlling(); ok {
		b.WriteString(", ICE-CONTROLLING")
	}
	return b.String()
}

// resolveUDPAddr resolves a "host:port" address: a STUN server or a
// candidate's address.
func resolveUDPAddr(hostport string) (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp", hostport)
}
