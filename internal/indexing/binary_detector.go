package indexing

import "bytes"

// binarySniffLen is how much of a file is inspected, as in net/http's
// content sniffing.
const binarySniffLen = 512

var binarySignatures = []struct {
	name  string
	magic []byte
}{
	{"gzip", []byte{0x1F, 0x8B}},
	{"zip", []byte{0x50, 0x4B, 0x03, 0x04}},
	{"zip", []byte{0x50, 0x4B, 0x05, 0x06}},
	{"png", []byte{0x89, 0x50, 0x4E, 0x47}},
	{"jpeg", []byte{0xFF, 0xD8, 0xFF}},
	{"pdf", []byte{0x25, 0x50, 0x44, 0x46}},
	{"elf", []byte{0x7F, 0x45, 0x4C, 0x46}},
	{"mach-o", []byte{0xCA, 0xFE, 0xBA, 0xBE}},
	{"mach-o", []byte{0xCF, 0xFA, 0xED, 0xFE}},
	{"wasm", []byte{0x00, 0x61, 0x73, 0x6D}},
	{"woff", []byte{0x77, 0x4F, 0x46, 0x46}},
	{"woff2", []byte{0x77, 0x4F, 0x46, 0x32}},
}

// binaryKind reports what kind of binary content starts content, or "" for
// text. Files reach here by extension alone, so a .ts transport stream or a
// compiled blob named like source would otherwise be handed to tree-sitter.
func binaryKind(content []byte) string {
	if len(content) == 0 {
		return ""
	}
	sample := content[:min(len(content), binarySniffLen)]

	for _, sig := range binarySignatures {
		if bytes.HasPrefix(sample, sig.magic) {
			return sig.name
		}
	}

	// UTF-8 text never contains NUL; bytes >= 0x80 are not counted so
	// non-ASCII source stays text.
	nullBytes, control := 0, 0
	for _, b := range sample {
		switch {
		case b == 0:
			nullBytes++
		case b < 0x20 && b != '\t' && b != '\n' && b != '\r' && b != '\f':
			control++
		}
	}
	if nullBytes > len(sample)/100 || control > len(sample)*30/100 {
		return "data"
	}
	return ""
}
