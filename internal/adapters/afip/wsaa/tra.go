package wsaa

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"time"
)

// The authority stamps and expects times at UTC-03:00.
var authorityZone = time.FixedZone("ART", -3*60*60)

const traTimeLayout = "2006-01-02T15:04:05-07:00"

// Clock skew allowances applied to the ticket request window.
const (
	generationSkew = 10 * time.Minute
	requestWindow  = 12 * time.Hour
)

type loginTicketRequest struct {
	XMLName xml.Name `xml:"loginTicketRequest"`
	Version string   `xml:"version,attr"`
	Header  struct {
		UniqueID       uint32 `xml:"uniqueId"`
		GenerationTime string `xml:"generationTime"`
		ExpirationTime string `xml:"expirationTime"`
	} `xml:"header"`
	Service string `xml:"service"`
}

// BuildLoginTicketRequest renders the TRA document for service. The generation time is
// backdated to tolerate clock skew with the authority.
func BuildLoginTicketRequest(service string, now time.Time) ([]byte, error) {
	if service == "" {
		return nil, fmt.Errorf("build login ticket request: empty service")
	}

	generation := now.Add(-generationSkew).In(authorityZone)

	tra := loginTicketRequest{Version: "1.0", Service: service}
	tra.Header.UniqueID = uint32(now.Unix())
	tra.Header.GenerationTime = generation.Format(traTimeLayout)
	tra.Header.ExpirationTime = generation.Add(requestWindow).Format(traTimeLayout)

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	if err := xml.NewEncoder(&buf).Encode(tra); err != nil {
		return nil, fmt.Errorf("build login ticket request: %w", err)
	}
	return buf.Bytes(), nil
}
