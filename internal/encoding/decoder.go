package encoding

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/nqkv/quadstore/pkg/rdf"
	"github.com/nqkv/quadstore/pkg/store"
)

// EncodedTerm aliases the wire representation shared with pkg/store so
// the codec and the index layer agree on the same fixed-size array type.
type EncodedTerm = store.EncodedTerm

// TermDecoder handles decoding of RDF terms
type TermDecoder struct{}

// NewTermDecoder creates a new term decoder
func NewTermDecoder() *TermDecoder {
	return &TermDecoder{}
}

// DecodeTerm decodes an encoded term back to an rdf.Term
// For terms that require string lookup, stringValue should be provided
func (d *TermDecoder) DecodeTerm(encoded EncodedTerm, stringValue *string) (rdf.Term, error) {
	termType := GetTermType(encoded)

	switch termType {
	case rdf.TermTypeNamedNode:
		if stringValue == nil {
			return nil, fmt.Errorf("string value required for named node")
		}
		return rdf.NewNamedNode(*stringValue), nil

	case rdf.TermTypeBlankNode:
		if stringValue != nil {
			return rdf.NewBlankNode(*stringValue), nil
		}
		// Try to decode as numeric ID
		numericID := binary.BigEndian.Uint64(encoded[1:9])
		return rdf.NewBlankNode(strconv.FormatUint(numericID, 10)), nil

	case rdf.TermTypeStringLiteral:
		if stringValue != nil {
			return rdf.NewLiteral(*stringValue), nil
		}
		// Try to extract inline string
		// Find null terminator or end of data
		endIdx := 1
		for endIdx < EncodedTermSize && encoded[endIdx] != 0 {
			endIdx++
		}
		inlineStr := string(encoded[1:endIdx])
		return rdf.NewLiteral(inlineStr), nil

	case rdf.TermTypeLangStringLiteral:
		if stringValue == nil {
			return nil, fmt.Errorf("string value required for language-tagged literal")
		}
		// Split value@language[--direction]
		for i := len(*stringValue) - 1; i >= 0; i-- {
			if (*stringValue)[i] == '@' {
				value := (*stringValue)[:i]
				lang := (*stringValue)[i+1:]
				if idx := strings.Index(lang, "--"); idx >= 0 {
					return rdf.NewLiteralWithLanguageAndDirection(value, lang[:idx], lang[idx+2:]), nil
				}
				return rdf.NewLiteralWithLanguage(value, lang), nil
			}
		}
		return rdf.NewLiteral(*stringValue), nil

	case rdf.TermTypeIntegerLiteral:
		value := int64(binary.BigEndian.Uint64(encoded[1:9])) // #nosec G115 - intentional bit-pattern conversion for binary decoding
		return rdf.NewIntegerLiteral(value), nil

	case rdf.TermTypeDecimalLiteral:
		bits := binary.BigEndian.Uint64(encoded[1:9])
		value := math.Float64frombits(bits)
		return rdf.NewLiteralWithDatatype(fmt.Sprintf("%g", value), rdf.XSDDecimal), nil

	case rdf.TermTypeDoubleLiteral:
		bits := binary.BigEndian.Uint64(encoded[1:9])
		value := math.Float64frombits(bits)
		return rdf.NewDoubleLiteral(value), nil

	case rdf.TermTypeBooleanLiteral:
		value := encoded[1] != 0
		return rdf.NewBooleanLiteral(value), nil

	case rdf.TermTypeDateTimeLiteral:
		nanos := int64(binary.BigEndian.Uint64(encoded[1:9])) // #nosec G115 - intentional bit-pattern conversion for timestamp decoding
		t := time.Unix(0, nanos)
		return rdf.NewDateTimeLiteral(t), nil

	case rdf.TermTypeDateLiteral:
		days := int64(binary.BigEndian.Uint64(encoded[1:9])) // #nosec G115 - intentional bit-pattern conversion for date decoding
		t := time.Unix(days*86400, 0)
		return rdf.NewLiteralWithDatatype(t.Format("2006-01-02"), rdf.XSDDate), nil

	case rdf.TermTypeDefaultGraph:
		return rdf.NewDefaultGraph(), nil

	case rdf.TermTypeTypedLiteral:
		if stringValue == nil {
			return nil, fmt.Errorf("string value required for typed literal")
		}
		// encodeTypedLiteral interns "value^^datatypeIRI"; split on the
		// last "^^" since the value itself may contain the separator.
		idx := strings.LastIndex(*stringValue, "^^")
		if idx < 0 {
			return nil, fmt.Errorf("malformed typed literal value %q", *stringValue)
		}
		value := (*stringValue)[:idx]
		datatypeIRI := (*stringValue)[idx+2:]
		return rdf.NewLiteralWithDatatype(value, rdf.NewNamedNode(datatypeIRI)), nil

	case rdf.TermTypeQuotedTriple:
		if stringValue == nil {
			return nil, fmt.Errorf("string value required for quoted triple")
		}
		return parseQuotedTriple(*stringValue)

	default:
		return nil, fmt.Errorf("unknown term type: %d", termType)
	}
}

// parseQuotedTriple reconstructs a rdf.QuotedTriple from the canonical
// "<< subject predicate object >>" form produced by QuotedTriple.String,
// the same string encodeQuotedTriple hashes and interns.
func parseQuotedTriple(s string) (rdf.Term, error) {
	if !strings.HasPrefix(s, "<<") || !strings.HasSuffix(s, ">>") {
		return nil, fmt.Errorf("malformed quoted triple %q", s)
	}
	body := strings.TrimSpace(s[2 : len(s)-2])
	tokens, err := splitTermTokens(body)
	if err != nil {
		return nil, fmt.Errorf("split quoted triple %q: %w", s, err)
	}
	if len(tokens) != 3 {
		return nil, fmt.Errorf("quoted triple %q has %d terms, want 3", s, len(tokens))
	}

	subject, err := parseTermToken(tokens[0])
	if err != nil {
		return nil, fmt.Errorf("quoted triple subject: %w", err)
	}
	predicate, err := parseTermToken(tokens[1])
	if err != nil {
		return nil, fmt.Errorf("quoted triple predicate: %w", err)
	}
	object, err := parseTermToken(tokens[2])
	if err != nil {
		return nil, fmt.Errorf("quoted triple object: %w", err)
	}

	qt, err := rdf.NewQuotedTriple(subject, predicate, object)
	if err != nil {
		return nil, fmt.Errorf("quoted triple %q: %w", s, err)
	}
	return qt, nil
}

// splitTermTokens splits the space-separated body of a quoted triple into
// its three term tokens, treating "<<...>>", "<...>", and "..."-delimited
// spans as atomic so that embedded spaces (a quoted-triple subject, or a
// literal value) don't get mistaken for separators.
func splitTermTokens(body string) ([]string, error) {
	var tokens []string
	i, n := 0, len(body)
	for i < n {
		for i < n && body[i] == ' ' {
			i++
		}
		if i >= n {
			break
		}
		start := i
		switch {
		case strings.HasPrefix(body[i:], "<<"):
			depth := 0
			for i < n {
				if strings.HasPrefix(body[i:], "<<") {
					depth++
					i += 2
					continue
				}
				if strings.HasPrefix(body[i:], ">>") {
					depth--
					i += 2
					if depth == 0 {
						break
					}
					continue
				}
				i++
			}
		case body[i] == '<':
			i++
			for i < n && body[i] != '>' {
				i++
			}
			if i >= n {
				return nil, fmt.Errorf("unterminated IRI token in %q", body)
			}
			i++
		case body[i] == '"':
			i++
			for i < n && body[i] != '"' {
				i++
			}
			if i >= n {
				return nil, fmt.Errorf("unterminated literal token in %q", body)
			}
			i++
			for i < n && body[i] != ' ' {
				i++
			}
		case strings.HasPrefix(body[i:], "_:"):
			for i < n && body[i] != ' ' {
				i++
			}
		default:
			return nil, fmt.Errorf("unrecognized term token at %q", body[i:])
		}
		tokens = append(tokens, body[start:i])
	}
	return tokens, nil
}

// parseTermToken parses a single token produced by splitTermTokens back
// into the rdf.Term whose String method produced it.
func parseTermToken(tok string) (rdf.Term, error) {
	switch {
	case strings.HasPrefix(tok, "<<"):
		return parseQuotedTriple(tok)
	case strings.HasPrefix(tok, "_:"):
		return rdf.NewBlankNode(tok[2:]), nil
	case strings.HasPrefix(tok, "<"):
		if !strings.HasSuffix(tok, ">") {
			return nil, fmt.Errorf("malformed IRI token %q", tok)
		}
		return rdf.NewNamedNode(tok[1 : len(tok)-1]), nil
	case strings.HasPrefix(tok, `"`):
		return parseLiteralToken(tok)
	default:
		return nil, fmt.Errorf("unrecognized term token %q", tok)
	}
}

// parseLiteralToken parses a `"value"`, `"value"@lang[--dir]`, or
// `"value"^^<iri>` token, mirroring Literal.String's three forms.
func parseLiteralToken(tok string) (rdf.Term, error) {
	if len(tok) < 2 || tok[0] != '"' {
		return nil, fmt.Errorf("malformed literal token %q", tok)
	}
	rest := tok[1:]
	end := strings.Index(rest, `"`)
	if end < 0 {
		return nil, fmt.Errorf("unterminated literal token %q", tok)
	}
	value := rest[:end]
	suffix := rest[end+1:]

	switch {
	case suffix == "":
		return rdf.NewLiteral(value), nil
	case strings.HasPrefix(suffix, "@"):
		langAndDir := suffix[1:]
		if idx := strings.Index(langAndDir, "--"); idx >= 0 {
			return rdf.NewLiteralWithLanguageAndDirection(value, langAndDir[:idx], langAndDir[idx+2:]), nil
		}
		return rdf.NewLiteralWithLanguage(value, langAndDir), nil
	case strings.HasPrefix(suffix, "^^"):
		dtToken := suffix[2:]
		if len(dtToken) < 2 || dtToken[0] != '<' || dtToken[len(dtToken)-1] != '>' {
			return nil, fmt.Errorf("malformed literal datatype %q", dtToken)
		}
		return rdf.NewLiteralWithDatatype(value, rdf.NewNamedNode(dtToken[1:len(dtToken)-1])), nil
	default:
		return nil, fmt.Errorf("unrecognized literal suffix %q", suffix)
	}
}
