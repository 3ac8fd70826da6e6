package xmlrpc

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
)

// DefaultEncoding is the output charset used when Config.Encoding is empty.
const DefaultEncoding = "utf-8"

// charset encodes response documents into the configured output encoding.
// Runes the encoding cannot represent become "&#NNN;" references.
type charset struct {
	name string
	enc  encoding.Encoding
}

// CheckEncoding reports whether name is an output charset a Dispatcher
// accepts. The empty name is DefaultEncoding.
func CheckEncoding(name string) error {
	_, err := lookupCharset(name)
	return err
}

// lookupCharset resolves name in the IANA registry. The WHATWG index is
// not used for output: it maps labels such as "iso-8859-1" onto
// windows-1252, which would contradict the declared charset.
func lookupCharset(name string) (*charset, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultEncoding
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, fmt.Errorf("xmlrpc: unknown encoding %q: %w", name, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("xmlrpc: unsupported encoding %q", name)
	}
	canonical, err := ianaindex.IANA.Name(enc)
	if err != nil {
		canonical = name
	}
	return &charset{name: strings.ToLower(canonical), enc: enc}, nil
}

func (c *charset) isUTF8() bool {
	return c.name == "utf-8"
}

// xmlHeader returns the XML declaration for documents in this charset.
func (c *charset) xmlHeader() string {
	if c.isUTF8() {
		return "<?xml version='1.0'?>\n"
	}
	return "<?xml version='1.0' encoding='" + c.name + "'?>\n"
}

func (c *charset) encode(doc []byte) ([]byte, error) {
	if c.isUTF8() {
		return doc, nil
	}
	return encoding.HTMLEscapeUnsupported(c.enc.NewEncoder()).Bytes(doc)
}

// charsetReader lets the XML decoder read request documents declared in
// any IANA charset, falling back to the WHATWG labels browsers accept.
func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := ianaindex.IANA.Encoding(label)
	if err != nil || enc == nil {
		if enc, err = htmlindex.Get(label); err != nil {
			return nil, fmt.Errorf("unsupported charset %q: %w", label, err)
		}
	}
	return enc.NewDecoder().Reader(input), nil
}
