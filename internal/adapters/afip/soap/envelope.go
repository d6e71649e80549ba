package soap

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strings"

	"golang.org/x/text/encoding/ianaindex"
)

const envelopeNS = "http://schemas.xmlsoap.org/soap/envelope/"

type requestEnvelope struct {
	XMLName    xml.Name   `xml:"soapenv:Envelope"`
	SoapenvNS  string     `xml:"xmlns:soapenv,attr"`
	Namespaces []xml.Attr `xml:",any,attr"`
	Header     struct{}   `xml:"soapenv:Header"`
	Body       struct {
		Content any
	} `xml:"soapenv:Body"`
}

type responseEnvelope struct {
	Body struct {
		Fault   *fault `xml:"Fault"`
		Content []byte `xml:",innerxml"`
	} `xml:"Body"`
}

type fault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
	Detail struct {
		Inner string `xml:",innerxml"`
	} `xml:"detail"`
}

// Marshal wraps an operation element in a SOAP 1.1 envelope. namespaces adds prefixed
// declarations to the envelope for services whose operation element is prefixed.
func Marshal(operation any, namespaces map[string]string) ([]byte, error) {
	env := requestEnvelope{SoapenvNS: envelopeNS}
	env.Body.Content = operation

	prefixes := make([]string, 0, len(namespaces))
	for prefix := range namespaces {
		prefixes = append(prefixes, prefix)
	}
	sort.Strings(prefixes)
	for _, prefix := range prefixes {
		env.Namespaces = append(env.Namespaces, xml.Attr{
			Name:  xml.Name{Local: "xmlns:" + prefix},
			Value: namespaces[prefix],
		})
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	if err := xml.NewEncoder(&buf).Encode(env); err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return buf.Bytes(), nil
}

// unwrap decodes an envelope and returns the body content, or the fault when the body
// carries one.
func unwrap(payload []byte) ([]byte, *fault, error) {
	var env responseEnvelope
	if err := newDecoder(bytes.NewReader(payload)).Decode(&env); err != nil {
		return nil, nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Body.Fault != nil {
		return nil, env.Body.Fault, nil
	}
	content := bytes.TrimSpace(env.Body.Content)
	if len(content) == 0 {
		return nil, nil, fmt.Errorf("decode envelope: empty body")
	}
	return content, nil, nil
}

// DecodeNested is the second decoding stage for services that return an XML document
// as escaped text inside a response element. The text has already been unescaped by
// the first stage.
func DecodeNested(document string, out any) error {
	document = strings.TrimSpace(document)
	if document == "" {
		return fmt.Errorf("decode nested document: empty")
	}
	if err := newDecoder(strings.NewReader(document)).Decode(out); err != nil {
		return fmt.Errorf("decode nested document: %w", err)
	}
	return nil
}

func newDecoder(r io.Reader) *xml.Decoder {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charsetReader
	return dec
}

// charsetReader handles the ISO-8859-1 declarations some authority services emit.
func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := ianaindex.IANA.Encoding(label)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", label, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("unsupported charset %q", label)
	}
	return enc.NewDecoder().Reader(input), nil
}
