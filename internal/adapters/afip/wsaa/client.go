package wsaa

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
	"time"

	"3tcapital/ms_facturacion_afip/internal/adapters/afip/soap"
	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
)

// CMSSigner signs a login ticket request.
type CMSSigner interface {
	Sign(content []byte) ([]byte, error)
}

type loginCmsRequest struct {
	XMLName xml.Name `xml:"http://wsaa.view.sua.dvadac.desein.afip.gov loginCms"`
	In0     string   `xml:"in0"`
}

type loginCmsResponse struct {
	Return string `xml:"loginCmsReturn"`
}

type loginTicketResponse struct {
	Header struct {
		Source         string `xml:"source"`
		Destination    string `xml:"destination"`
		UniqueID       uint32 `xml:"uniqueId"`
		GenerationTime string `xml:"generationTime"`
		ExpirationTime string `xml:"expirationTime"`
	} `xml:"header"`
	Credentials struct {
		Token string `xml:"token"`
		Sign  string `xml:"sign"`
	} `xml:"credentials"`
}

// LoginClient obtains access tickets from the authentication service.
type LoginClient struct {
	soap     *soap.Client
	endpoint string
	signer   CMSSigner
	now      func() time.Time
}

// NewLoginClient creates a client for the loginCms operation at endpoint.
func NewLoginClient(soapClient *soap.Client, endpoint string, signer CMSSigner, now func() time.Time) *LoginClient {
	if now == nil {
		now = time.Now
	}
	return &LoginClient{soap: soapClient, endpoint: endpoint, signer: signer, now: now}
}

// Login signs a fresh ticket request for service and exchanges it for a ticket.
func (c *LoginClient) Login(ctx context.Context, service string) (fiscal.AccessTicket, error) {
	tra, err := BuildLoginTicketRequest(service, c.now())
	if err != nil {
		return fiscal.AccessTicket{}, err
	}
	cms, err := c.signer.Sign(tra)
	if err != nil {
		return fiscal.AccessTicket{}, fmt.Errorf("sign login ticket request: %w", err)
	}

	var resp loginCmsResponse
	err = c.soap.Call(ctx, soap.Request{
		Service:   "wsaa",
		Operation: "loginCms",
		Endpoint:  c.endpoint,
		Body:      loginCmsRequest{In0: base64.StdEncoding.EncodeToString(cms)},
	}, &resp)
	if err != nil {
		return fiscal.AccessTicket{}, err
	}

	return parseTicket(service, resp.Return)
}

func parseTicket(service, document string) (fiscal.AccessTicket, error) {
	var ta loginTicketResponse
	if err := soap.DecodeNested(document, &ta); err != nil {
		return fiscal.AccessTicket{}, &fiscal.ProtocolFault{Op: "loginCms", Message: err.Error(), Payload: []byte(document)}
	}

	token := strings.TrimSpace(ta.Credentials.Token)
	sign := strings.TrimSpace(ta.Credentials.Sign)
	if token == "" || sign == "" {
		return fiscal.AccessTicket{}, &fiscal.ProtocolFault{Op: "loginCms", Message: "ticket without token or sign", Payload: []byte(document)}
	}

	issued, err := time.Parse(time.RFC3339, strings.TrimSpace(ta.Header.GenerationTime))
	if err != nil {
		return fiscal.AccessTicket{}, &fiscal.ProtocolFault{Op: "loginCms", Message: fmt.Sprintf("generationTime: %v", err)}
	}
	expires, err := time.Parse(time.RFC3339, strings.TrimSpace(ta.Header.ExpirationTime))
	if err != nil {
		return fiscal.AccessTicket{}, &fiscal.ProtocolFault{Op: "loginCms", Message: fmt.Sprintf("expirationTime: %v", err)}
	}

	return fiscal.AccessTicket{
		Service:   service,
		Token:     token,
		Sign:      sign,
		IssuedAt:  issued,
		ExpiresAt: expires,
	}, nil
}

// IsAlreadyAuthenticated reports the fault returned when a valid ticket for the same
// certificate and service was issued elsewhere and has not expired yet.
func IsAlreadyAuthenticated(err error) bool {
	fault, ok := asFault(err)
	return ok && strings.Contains(fault.Code, "alreadyAuthenticated")
}

// IsNotAuthorized reports the fault returned when the certificate has no delegation
// for the requested service.
func IsNotAuthorized(err error) bool {
	fault, ok := asFault(err)
	return ok && (strings.Contains(fault.Code, "notAuthorized") || strings.Contains(fault.Code, "cms.cert.untrusted"))
}

func asFault(err error) (*fiscal.ProtocolFault, bool) {
	var fault *fiscal.ProtocolFault
	if errors.As(err, &fault) {
		return fault, true
	}
	return nil, false
}
