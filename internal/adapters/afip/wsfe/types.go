package wsfe

import (
	"encoding/xml"

	"github.com/shopspring/decimal"
)

const namespace = "http://ar.gov.afip.dif.FEV1/"

type auth struct {
	Token string `xml:"Token"`
	Sign  string `xml:"Sign"`
	Cuit  int64  `xml:"Cuit"`
}

type message struct {
	Code int    `xml:"Code"`
	Msg  string `xml:"Msg"`
}

type errorList struct {
	Items []message `xml:"Err"`
}

type eventList struct {
	Items []message `xml:"Evt"`
}

// FECompUltimoAutorizado

type lastAuthorizedRequest struct {
	XMLName  xml.Name `xml:"http://ar.gov.afip.dif.FEV1/ FECompUltimoAutorizado"`
	Auth     auth     `xml:"Auth"`
	PtoVta   int      `xml:"PtoVta"`
	CbteTipo int      `xml:"CbteTipo"`
}

type lastAuthorizedResponse struct {
	Result struct {
		PtoVta   int       `xml:"PtoVta"`
		CbteTipo int       `xml:"CbteTipo"`
		CbteNro  int64     `xml:"CbteNro"`
		Errors   errorList `xml:"Errors"`
		Events   eventList `xml:"Events"`
	} `xml:"FECompUltimoAutorizadoResult"`
}

// FECAESolicitar

type caeRequest struct {
	XMLName  xml.Name `xml:"http://ar.gov.afip.dif.FEV1/ FECAESolicitar"`
	Auth     auth     `xml:"Auth"`
	FeCAEReq struct {
		FeCabReq struct {
			CantReg  int `xml:"CantReg"`
			PtoVta   int `xml:"PtoVta"`
			CbteTipo int `xml:"CbteTipo"`
		} `xml:"FeCabReq"`
		FeDetReq struct {
			Items []caeDetail `xml:"FECAEDetRequest"`
		} `xml:"FeDetReq"`
	} `xml:"FeCAEReq"`
}

type caeDetail struct {
	Concepto               int             `xml:"Concepto"`
	DocTipo                int             `xml:"DocTipo"`
	DocNro                 int64           `xml:"DocNro"`
	CbteDesde              int64           `xml:"CbteDesde"`
	CbteHasta              int64           `xml:"CbteHasta"`
	CbteFch                string          `xml:"CbteFch"`
	ImpTotal               string          `xml:"ImpTotal"`
	ImpTotConc             string          `xml:"ImpTotConc"`
	ImpNeto                string          `xml:"ImpNeto"`
	ImpOpEx                string          `xml:"ImpOpEx"`
	ImpTrib                string          `xml:"ImpTrib"`
	ImpIVA                 string          `xml:"ImpIVA"`
	FchServDesde           string          `xml:"FchServDesde,omitempty"`
	FchServHasta           string          `xml:"FchServHasta,omitempty"`
	FchVtoPago             string          `xml:"FchVtoPago,omitempty"`
	MonID                  string          `xml:"MonId"`
	MonCotiz               string          `xml:"MonCotiz"`
	CondicionIVAReceptorID int             `xml:"CondicionIVAReceptorId"`
	CbtesAsoc              *associatedList `xml:"CbtesAsoc,omitempty"`
	Iva                    *vatList        `xml:"Iva,omitempty"`
}

type associatedList struct {
	Items []associated `xml:"CbteAsoc"`
}

type associated struct {
	Tipo    int    `xml:"Tipo"`
	PtoVta  int    `xml:"PtoVta"`
	Nro     int64  `xml:"Nro"`
	Cuit    string `xml:"Cuit,omitempty"`
	CbteFch string `xml:"CbteFch,omitempty"`
}

type vatList struct {
	Items []vatLine `xml:"AlicIva"`
}

type vatLine struct {
	ID      int    `xml:"Id"`
	BaseImp string `xml:"BaseImp"`
	Importe string `xml:"Importe"`
}

type caeResponse struct {
	Result struct {
		FeCabResp struct {
			Cuit       int64  `xml:"Cuit"`
			PtoVta     int    `xml:"PtoVta"`
			CbteTipo   int    `xml:"CbteTipo"`
			FchProceso string `xml:"FchProceso"`
			CantReg    int    `xml:"CantReg"`
			Resultado  string `xml:"Resultado"`
		} `xml:"FeCabResp"`
		FeDetResp struct {
			Items []caeDetailResponse `xml:"FECAEDetResponse"`
		} `xml:"FeDetResp"`
		Events eventList `xml:"Events"`
		Errors errorList `xml:"Errors"`
	} `xml:"FECAESolicitarResult"`
}

type caeDetailResponse struct {
	Concepto      int    `xml:"Concepto"`
	DocTipo       int    `xml:"DocTipo"`
	DocNro        int64  `xml:"DocNro"`
	CbteDesde     int64  `xml:"CbteDesde"`
	CbteHasta     int64  `xml:"CbteHasta"`
	CbteFch       string `xml:"CbteFch"`
	Resultado     string `xml:"Resultado"`
	Observaciones struct {
		Items []message `xml:"Obs"`
	} `xml:"Observaciones"`
	CAE       string `xml:"CAE"`
	CAEFchVto string `xml:"CAEFchVto"`
}

// FECompConsultar

type queryRequest struct {
	XMLName       xml.Name `xml:"http://ar.gov.afip.dif.FEV1/ FECompConsultar"`
	Auth          auth     `xml:"Auth"`
	FeCompConsReq struct {
		CbteTipo int   `xml:"CbteTipo"`
		CbteNro  int64 `xml:"CbteNro"`
		PtoVta   int   `xml:"PtoVta"`
	} `xml:"FeCompConsReq"`
}

type queryResponse struct {
	Result struct {
		ResultGet *struct {
			Concepto   int             `xml:"Concepto"`
			DocTipo    int             `xml:"DocTipo"`
			DocNro     int64           `xml:"DocNro"`
			CbteDesde  int64           `xml:"CbteDesde"`
			CbteFch    string          `xml:"CbteFch"`
			ImpTotal   decimal.Decimal `xml:"ImpTotal"`
			ImpTotConc decimal.Decimal `xml:"ImpTotConc"`
			ImpNeto    decimal.Decimal `xml:"ImpNeto"`
			ImpOpEx    decimal.Decimal `xml:"ImpOpEx"`
			ImpTrib    decimal.Decimal `xml:"ImpTrib"`
			ImpIVA     decimal.Decimal `xml:"ImpIVA"`
			MonID      string          `xml:"MonId"`
			Iva        struct {
				Items []struct {
					ID      int             `xml:"Id"`
					BaseImp decimal.Decimal `xml:"BaseImp"`
					Importe decimal.Decimal `xml:"Importe"`
				} `xml:"AlicIva"`
			} `xml:"Iva"`
			Resultado       string `xml:"Resultado"`
			CodAutorizacion string `xml:"CodAutorizacion"`
			EmisionTipo     string `xml:"EmisionTipo"`
			FchVto          string `xml:"FchVto"`
			FchProceso      string `xml:"FchProceso"`
			PtoVta          int    `xml:"PtoVta"`
			CbteTipo        int    `xml:"CbteTipo"`
		} `xml:"ResultGet"`
		Errors errorList `xml:"Errors"`
		Events eventList `xml:"Events"`
	} `xml:"FECompConsultarResult"`
}

// Parameter catalogs

type paramRequest struct {
	XMLName xml.Name
	Auth    auth `xml:"Auth"`
}

func paramName(operation string) xml.Name {
	return xml.Name{Space: namespace, Local: operation}
}

type tableResponse interface {
	entries() []paramEntry
	errorItems() []message
}

type salesPointsResponse struct {
	Result struct {
		ResultGet struct {
			Items []struct {
				Nro         int    `xml:"Nro"`
				EmisionTipo string `xml:"EmisionTipo"`
				Bloqueado   string `xml:"Bloqueado"`
				FchBaja     string `xml:"FchBaja"`
			} `xml:"PtoVenta"`
		} `xml:"ResultGet"`
		Errors errorList `xml:"Errors"`
	} `xml:"FEParamGetPtosVentaResult"`
}

type paramEntry struct {
	ID       string `xml:"Id"`
	Desc     string `xml:"Desc"`
	FchDesde string `xml:"FchDesde"`
	FchHasta string `xml:"FchHasta"`
}

type documentKindsResponse struct {
	Result struct {
		ResultGet struct {
			Items []paramEntry `xml:"CbteTipo"`
		} `xml:"ResultGet"`
		Errors errorList `xml:"Errors"`
	} `xml:"FEParamGetTiposCbteResult"`
}

func (r *documentKindsResponse) entries() []paramEntry { return r.Result.ResultGet.Items }
func (r *documentKindsResponse) errorItems() []message { return r.Result.Errors.Items }

type vatRatesResponse struct {
	Result struct {
		ResultGet struct {
			Items []paramEntry `xml:"IvaTipo"`
		} `xml:"ResultGet"`
		Errors errorList `xml:"Errors"`
	} `xml:"FEParamGetTiposIvaResult"`
}

func (r *vatRatesResponse) entries() []paramEntry { return r.Result.ResultGet.Items }
func (r *vatRatesResponse) errorItems() []message { return r.Result.Errors.Items }

type vatCategoriesRequest struct {
	XMLName  xml.Name `xml:"http://ar.gov.afip.dif.FEV1/ FEParamGetCondicionIvaReceptor"`
	Auth     auth     `xml:"Auth"`
	ClaseCmp string   `xml:"ClaseCmp,omitempty"`
}

type vatCategoriesResponse struct {
	Result struct {
		ResultGet struct {
			Items []struct {
				ID       int    `xml:"Id"`
				Desc     string `xml:"Desc"`
				CmpClase string `xml:"Cmp_Clase"`
			} `xml:"CondicionIvaReceptor"`
		} `xml:"ResultGet"`
		Errors errorList `xml:"Errors"`
	} `xml:"FEParamGetCondicionIvaReceptorResult"`
}

// FEDummy

type dummyRequest struct {
	XMLName xml.Name `xml:"http://ar.gov.afip.dif.FEV1/ FEDummy"`
}

type dummyResponse struct {
	Result struct {
		AppServer  string `xml:"AppServer"`
		DbServer   string `xml:"DbServer"`
		AuthServer string `xml:"AuthServer"`
	} `xml:"FEDummyResult"`
}
