package protocol

import (
	"encoding/binary"
	"fmt"
)

// Binary protocol versions. Version 1 carries bare Opus frames.
const (
	BinaryVersion1 = 1
	BinaryVersion2 = 2
	BinaryVersion3 = 3
)

// Frame types carried in v2/v3 headers.
const (
	FrameTypeAudio = 0
	FrameTypeJSON  = 1
)

const (
	v2HeaderSize = 16
	v3HeaderSize = 4
)

// EncodeAudioFrame frames pkt for the given binary protocol version.
func EncodeAudioFrame(version int, pkt *AudioStreamPacket) ([]byte, error) {
	n := len(pkt.Payload)
	switch version {
	case BinaryVersion1:
		return pkt.Payload, nil
	case BinaryVersion2:
		buf := make([]byte, v2HeaderSize+n)
		binary.BigEndian.PutUint16(buf[0:], uint16(version))
		binary.BigEndian.PutUint16(buf[2:], FrameTypeAudio)
		binary.BigEndian.PutUint32(buf[8:], pkt.Timestamp)
		binary.BigEndian.PutUint32(buf[12:], uint32(n))
		copy(buf[v2HeaderSize:], pkt.Payload)
		return buf, nil
	case BinaryVersion3:
		if n > 0xFFFF {
			return nil, fmt.Errorf("protocol: v3 payload of %d bytes exceeds 65535", n)
		}
		buf := make([]byte, v3HeaderSize+n)
		buf[0] = FrameTypeAudio
		binary.BigEndian.PutUint16(buf[2:], uint16(n))
		copy(buf[v3HeaderSize:], pkt.Payload)
		return buf, nil
	}
	return nil, fmt.Errorf("protocol: unsupported binary version %d", version)
}

// DecodeAudioFrame parses one binary frame. Frames that are not audio or are
// truncated return an error wrapping [ErrSkip].
func DecodeAudioFrame(version int, data []byte) (*AudioStreamPacket, error) {
	switch version {
	case BinaryVersion1:
		return &AudioStreamPacket{Payload: data}, nil
	case BinaryVersion2:
		if len(data) < v2HeaderSize {
			return nil, fmt.Errorf("%w: v2 frame of %d bytes", ErrSkip, len(data))
		}
		if t := binary.BigEndian.Uint16(data[2:]); t != FrameTypeAudio {
			return nil, fmt.Errorf("%w: v2 frame type %d", ErrSkip, t)
		}
		size := int(binary.BigEndian.Uint32(data[12:]))
		if size > len(data)-v2HeaderSize {
			return nil, fmt.Errorf("%w: v2 payload size %d exceeds frame", ErrSkip, size)
		}
		return &AudioStreamPacket{
			Payload:   data[v2HeaderSize : v2HeaderSize+size],
			Timestamp: binary.BigEndian.Uint32(data[8:]),
		}, nil
	case BinaryVersion3:
		if len(data) < v3HeaderSize {
			return nil, fmt.Errorf("%w: v3 frame of %d bytes", ErrSkip, len(data))
		}
		if data[0] != FrameTypeAudio {
			return nil, fmt.Errorf("%w: v3 frame type %d", ErrSkip, data[0])
		}
		size := int(binary.BigEndian.Uint16(data[2:]))
		if size > len(data)-v3HeaderSize {
			return nil, fmt.Errorf("%w: v3 payload size %d exceeds frame", ErrSkip, size)
		}
		return &AudioStreamPacket{Payload: data[v3HeaderSize : v3HeaderSize+size]}, nil
	}
	return nil, fmt.Errorf("%w: unsupported binary version %d", ErrSkip, version)
}

// ParseP3 splits a stream of back-to-back v3 frames (the format of the
// bundled notification sounds) into packets. A truncated tail is an error.
func ParseP3(data []byte) ([]*AudioStreamPacket, error) {
	var pkts []*AudioStreamPacket
	for off := 0; off < len(data); {
		if len(data)-off < v3HeaderSize {
			return pkts, fmt.Errorf("protocol: p3 truncated header at offset %d", off)
		}
		size := int(binary.BigEndian.Uint16(data[off+2:]))
		start := off + v3HeaderSize
		if start+size > len(data) {
			return pkts, fmt.Errorf("protocol: p3 truncated payload at offset %d", off)
		}
		payload := make([]byte, size)
		copy(payload, data[start:start+size])
		pkts = append(pkts, &AudioStreamPacket{Payload: payload})
		off = start + size
	}
	return pkts, nil
}
