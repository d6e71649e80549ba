package padron

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"3tcapital/ms_facturacion_afip/internal/adapters/afip/soap"
	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
)

const namespace = "http://a5.soap.ws.server.puc.sr/"

type getPersonaRequest struct {
	XMLName          xml.Name `xml:"a5:getPersona_v2"`
	Token            string   `xml:"token"`
	Sign             string   `xml:"sign"`
	CuitRepresentada int64    `xml:"cuitRepresentada"`
	IDPersona        int64    `xml:"idPersona"`
}

type tax struct {
	ID    int    `xml:"idImpuesto"`
	Desc  string `xml:"descripcionImpuesto"`
	State string `xml:"estadoImpuesto"`
}

type getPersonaResponse struct {
	Return struct {
		General struct {
			ID        int64  `xml:"idPersona"`
			Kind      string `xml:"tipoPersona"`
			Status    string `xml:"estadoClave"`
			LegalName string `xml:"razonSocial"`
			FirstName string `xml:"nombre"`
			LastName  string `xml:"apellido"`
		} `xml:"datosGenerales"`
		Monotributo *struct {
			Category struct {
				ID   int    `xml:"idCategoria"`
				Desc string `xml:"descripcionCategoria"`
			} `xml:"categoriaMonotributo"`
			Taxes []tax `xml:"impuesto"`
		} `xml:"datosMonotributo"`
		GeneralRegime *struct {
			Taxes []tax `xml:"impuesto"`
		} `xml:"datosRegimenGeneral"`
		ConstancyError *struct {
			Errors []string `xml:"error"`
		} `xml:"errorConstancia"`
	} `xml:"personaReturn"`
}

// Client queries the taxpayer registry (Padrón A5).
type Client struct {
	soap     *soap.Client
	endpoint string
	cuit     int64
	tickets  fiscal.TicketProvider
}

// NewClient creates a registry client that authenticates as issuerTaxID.
func NewClient(soapClient *soap.Client, endpoint, issuerTaxID string, tickets fiscal.TicketProvider) (*Client, error) {
	cuit, err := strconv.ParseInt(issuerTaxID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid issuer tax id %q: %w", issuerTaxID, err)
	}
	return &Client{soap: soapClient, endpoint: endpoint, cuit: cuit, tickets: tickets}, nil
}

// Lookup fetches the registry record of taxID. A taxpayer the registry does not know
// yields fiscal.ErrNotFound.
func (c *Client) Lookup(ctx context.Context, taxID string) (*fiscal.RegistryRecord, error) {
	normalized, err := fiscal.NormalizeTaxID(taxID)
	if err != nil {
		return nil, err
	}
	id, _ := strconv.ParseInt(normalized, 10, 64)

	ticket, err := c.tickets.GetTicket(ctx, fiscal.ServiceRegistry)
	if err != nil {
		return nil, err
	}

	var resp getPersonaResponse
	err = c.soap.Call(ctx, soap.Request{
		Service:   "padron",
		Operation: "getPersona_v2",
		Endpoint:  c.endpoint,
		Body: getPersonaRequest{
			Token:            ticket.Token,
			Sign:             ticket.Sign,
			CuitRepresentada: c.cuit,
			IDPersona:        id,
		},
		Namespaces: map[string]string{"a5": namespace},
	}, &resp)
	if err != nil {
		var fault *fiscal.ProtocolFault
		if errors.As(err, &fault) && isUnknownPerson(fault.Message) {
			return nil, fmt.Errorf("taxpayer %s: %w", normalized, fiscal.ErrNotFound)
		}
		return nil, err
	}
	if resp.Return.General.ID == 0 {
		if ce := resp.Return.ConstancyError; ce != nil && len(ce.Errors) > 0 {
			return nil, fmt.Errorf("taxpayer %s: %s: %w", normalized, strings.Join(ce.Errors, "; "), fiscal.ErrNotFound)
		}
		return nil, fmt.Errorf("taxpayer %s: %w", normalized, fiscal.ErrNotFound)
	}

	return toRecord(normalized, resp), nil
}

func isUnknownPerson(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "no existe persona") || strings.Contains(msg, "inexistente")
}

func toRecord(taxID string, resp getPersonaResponse) *fiscal.RegistryRecord {
	r := resp.Return
	rec := &fiscal.RegistryRecord{
		TaxID:      taxID,
		PersonKind: fiscal.PersonKind(strings.ToUpper(strings.TrimSpace(r.General.Kind))),
		Status:     strings.TrimSpace(r.General.Status),
		Name:       strings.TrimSpace(r.General.LegalName),
	}
	if rec.Name == "" {
		rec.Name = strings.TrimSpace(strings.TrimSpace(r.General.LastName) + " " + strings.TrimSpace(r.General.FirstName))
	}

	if r.Monotributo != nil {
		rec.Monotributo = true
		rec.MonoCategory = strings.TrimSpace(r.Monotributo.Category.Desc)
		for _, t := range r.Monotributo.Taxes {
			rec.Taxes = append(rec.Taxes, t.ID)
		}
	}
	if r.GeneralRegime != nil {
		for _, t := range r.GeneralRegime.Taxes {
			rec.Taxes = append(rec.Taxes, t.ID)
		}
	}
	return rec
}
