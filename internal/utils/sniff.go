package utils

import (
	"bytes"
	"fmt"

	"github.com/zaqqye/proctoring_backend/internal/apperr"
)

// MinPayloadBytes is the smallest buffer that can carry any known signature.
const MinPayloadBytes = 12

// Size ceilings per upload kind.
const (
	MaxImageBytes    = 5 * 1024 * 1024
	MaxAudioBytes    = 10 * 1024 * 1024
	MaxSnapshotBytes = 2 * 1024 * 1024
)

type sigPart struct {
	offset int
	bytes  []byte
	mask   []byte
}

// Signature is one magic-byte rule. Every part must match.
type Signature struct {
	Mime  string
	parts []sigPart
}

func (s Signature) matches(data []byte) bool {
	for _, p := range s.parts {
		end := p.offset + len(p.bytes)
		if len(data) < end {
			return false
		}
		window := data[p.offset:end]
		if p.mask == nil {
			if !bytes.Equal(window, p.bytes) {
				return false
			}
			continue
		}
		for i := range p.bytes {
			if window[i]&p.mask[i] != p.bytes[i] {
				return false
			}
		}
	}
	return true
}

var signatures = []Signature{
	{Mime: "image/jpeg", parts: []sigPart{{offset: 0, bytes: []byte{0xFF, 0xD8, 0xFF}}}},
	{Mime: "image/png", parts: []sigPart{{offset: 0, bytes: []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}}}},
	{Mime: "audio/webm", parts: []sigPart{{offset: 0, bytes: []byte{0x1A, 0x45, 0xDF, 0xA3}}}},
	{Mime: "audio/wav", parts: []sigPart{
		{offset: 0, bytes: []byte("RIFF")},
		{offset: 8, bytes: []byte("WAVE")},
	}},
	{Mime: "audio/ogg", parts: []sigPart{{offset: 0, bytes: []byte("OggS")}}},
	{Mime: "audio/mpeg", parts: []sigPart{{offset: 0, bytes: []byte("ID3")}}},
	// Bare MPEG frame sync: 11 set bits.
	{Mime: "audio/mpeg", parts: []sigPart{{offset: 0, bytes: []byte{0xFF, 0xE0}, mask: []byte{0xFF, 0xE0}}}},
	{Mime: "audio/mp4", parts: []sigPart{{offset: 4, bytes: []byte("ftyp")}}},
}

// Accepted formats per upload kind.
var (
	ImageFormats = []string{"image/jpeg", "image/png"}
	AudioFormats = []string{"audio/webm", "audio/wav", "audio/ogg", "audio/mpeg", "audio/mp4"}
)

// Sniff returns the first mime in allowed whose signature matches data.
func Sniff(data []byte, allowed []string) (string, bool) {
	for _, sig := range signatures {
		if !contains(allowed, sig.Mime) {
			continue
		}
		if sig.matches(data) {
			return sig.Mime, true
		}
	}
	return "", false
}

// PayloadKind names an upload for error messages.
type PayloadKind string

const (
	PayloadImage PayloadKind = "Image"
	PayloadAudio PayloadKind = "Audio"
)

// ValidatePayload runs the emptiness, size and format checks in that order
// and returns the sniffed mime.
func ValidatePayload(data []byte, kind PayloadKind, maxBytes int, allowed []string) (string, error) {
	if len(data) < MinPayloadBytes {
		return "", apperr.New(apperr.KindInvalid, apperr.CodePayloadEmpty, fmt.Sprintf("%s data is required", kind))
	}
	if len(data) > maxBytes {
		return "", apperr.New(apperr.KindTooLarge, apperr.CodePayloadTooLarge,
			fmt.Sprintf("%s exceeds maximum size of %d bytes", kind, maxBytes))
	}
	mime, ok := Sniff(data, allowed)
	if !ok {
		return "", apperr.New(apperr.KindUnsupportedMedia, apperr.CodeUnsupportedMediaType,
			fmt.Sprintf("Unsupported %s format", lower(kind)))
	}
	return mime, nil
}

func lower(k PayloadKind) string {
	if k == PayloadImage {
		return "image"
	}
	return "audio"
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
