package imap

import (
	"fmt"
	"strings"
)

// SectionKind identifies which part of a message a BODY/BINARY attribute
// addresses (§4.1).
type SectionKind int

const (
	SectionNone SectionKind = iota
	SectionHeader
	SectionText
	SectionHeaderFields
	SectionHeaderFieldsNot
)

// Section is the bracketed qualifier on a BODY/BODY.PEEK/BINARY attribute.
type Section struct {
	Kind   SectionKind
	Fields []string // header names, for SectionHeaderFields(Not)
}

// AttrKind names the parsed FETCH attribute (§4.1's attribute list).
type AttrKind int

const (
	AttrEnvelope AttrKind = iota
	AttrFlags
	AttrInternalDate
	AttrRFC822Size
	AttrRFC822Header
	AttrUID
	AttrBodyStructure
	AttrBody
	AttrBinary
	AttrBinarySize
)

// Attr is one parsed FETCH data item.
type Attr struct {
	Kind    AttrKind
	Peek    bool // true for BODY.PEEK/BINARY.PEEK: does not mark \Seen
	Section Section
}

// ParseFetchAttrs parses the FETCH attribute argument: either a single bare
// token (e.g. "FLAGS") or a parenthesised list. ALL/FAST/FULL are expanded
// to their constituent attributes per RFC 9051 §7.5.
func ParseFetchAttrs(token string) ([]Attr, error) {
	if token == "" {
		return nil, &ParseError{Reason: "empty FETCH attribute list"}
	}

	inner, isList := stripOuterParens(token)
	var raw []string
	if isList {
		split, err := splitArgs(inner)
		if err != nil {
			return nil, err
		}
		raw = split
	} else {
		raw = []string{token}
	}

	var attrs []Attr
	for _, tok := range raw {
		switch strings.ToUpper(tok) {
		case "ALL":
			attrs = append(attrs,
				Attr{Kind: AttrFlags}, Attr{Kind: AttrInternalDate},
				Attr{Kind: AttrRFC822Size}, Attr{Kind: AttrEnvelope})
			continue
		case "FAST":
			attrs = append(attrs,
				Attr{Kind: AttrFlags}, Attr{Kind: AttrInternalDate},
				Attr{Kind: AttrRFC822Size})
			continue
		case "FULL":
			attrs = append(attrs,
				Attr{Kind: AttrFlags}, Attr{Kind: AttrInternalDate},
				Attr{Kind: AttrRFC822Size}, Attr{Kind: AttrEnvelope},
				Attr{Kind: AttrBody, Peek: false})
			continue
		}

		attr, err := parseOneAttr(tok)
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, attr)
	}

	return attrs, nil
}

func parseOneAttr(tok string) (Attr, error) {
	upper := strings.ToUpper(tok)

	bracket := strings.IndexByte(upper, '[')
	name := upper
	sectionSrc := ""
	hasSection := false
	if bracket >= 0 {
		if !strings.HasSuffix(upper, "]") {
			return Attr{}, &ParseError{Reason: fmt.Sprintf("unterminated section in %q", tok)}
		}
		name = upper[:bracket]
		sectionSrc = tok[bracket+1 : len(tok)-1]
		hasSection = true
	}

	switch name {
	case "ENVELOPE":
		return Attr{Kind: AttrEnvelope}, nil
	case "FLAGS":
		return Attr{Kind: AttrFlags}, nil
	case "INTERNALDATE":
		return Attr{Kind: AttrInternalDate}, nil
	case "RFC822.SIZE":
		return Attr{Kind: AttrRFC822Size}, nil
	case "RFC822.HEADER":
		return Attr{Kind: AttrRFC822Header}, nil
	case "UID":
		return Attr{Kind: AttrUID}, nil
	case "BODYSTRUCTURE":
		return Attr{Kind: AttrBodyStructure}, nil
	case "BODY":
		section := Section{}
		if hasSection {
			var err error
			section, err = parseSection(sectionSrc)
			if err != nil {
				return Attr{}, err
			}
		}
		return Attr{Kind: AttrBody, Peek: false, Section: section}, nil
	case "BODY.PEEK":
		if !hasSection {
			return Attr{}, &ParseError{Reason: "BODY.PEEK requires a section"}
		}
		section, err := parseSection(sectionSrc)
		if err != nil {
			return Attr{}, err
		}
		return Attr{Kind: AttrBody, Peek: true, Section: section}, nil
	case "BINARY":
		section := Section{}
		if hasSection {
			var err error
			section, err = parseSection(sectionSrc)
			if err != nil {
				return Attr{}, err
			}
		}
		return Attr{Kind: AttrBinary, Peek: false, Section: section}, nil
	case "BINARY.PEEK":
		section := Section{}
		if hasSection {
			var err error
			section, err = parseSection(sectionSrc)
			if err != nil {
				return Attr{}, err
			}
		}
		return Attr{Kind: AttrBinary, Peek: true, Section: section}, nil
	case "BINARY.SIZE":
		section := Section{}
		if hasSection {
			var err error
			section, err = parseSection(sectionSrc)
			if err != nil {
				return Attr{}, err
			}
		}
		return Attr{Kind: AttrBinarySize, Section: section}, nil
	default:
		return Attr{}, &ParseError{Reason: fmt.Sprintf("unknown FETCH attribute %q", tok)}
	}
}

func parseSection(s string) (Section, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Section{Kind: SectionNone}, nil
	}

	upper := strings.ToUpper(s)
	switch {
	case upper == "HEADER":
		return Section{Kind: SectionHeader}, nil
	case upper == "TEXT":
		return Section{Kind: SectionText}, nil
	case strings.HasPrefix(upper, "HEADER.FIELDS.NOT"):
		fields, err := parseHeaderFieldList(s[len("HEADER.FIELDS.NOT"):])
		if err != nil {
			return Section{}, err
		}
		return Section{Kind: SectionHeaderFieldsNot, Fields: fields}, nil
	case strings.HasPrefix(upper, "HEADER.FIELDS"):
		fields, err := parseHeaderFieldList(s[len("HEADER.FIELDS"):])
		if err != nil {
			return Section{}, err
		}
		return Section{Kind: SectionHeaderFields, Fields: fields}, nil
	default:
		return Section{}, &ParseError{Reason: fmt.Sprintf("unsupported section %q", s)}
	}
}

func parseHeaderFieldList(rest string) ([]string, error) {
	rest = strings.TrimSpace(rest)
	inner, ok := stripOuterParens(rest)
	if !ok {
		return nil, &ParseError{Reason: "HEADER.FIELDS requires a parenthesised header list"}
	}
	fields := strings.Fields(inner)
	if len(fields) == 0 {
		return nil, &ParseError{Reason: "HEADER.FIELDS list is empty"}
	}
	return fields, nil
}
