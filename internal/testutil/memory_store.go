package testutil

import (
	"context"
	"errors"
	"sort"
	"sync"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
	"3tcapital/ms_facturacion_afip/internal/core/ledger"

	"github.com/google/uuid"
)

// ErrInjected is returned by MemoryStore operations named in FailOn.
var ErrInjected = errors.New("injected failure")

// MemoryStore is an in-memory fiscal.TransactionScope. Each Execute works on a copy of
// the data that replaces it only when fn succeeds, so a failed transaction leaves
// nothing behind. Transactions are serialized.
type MemoryStore struct {
	txMu sync.Mutex
	mu   sync.Mutex
	data memoryData

	// FailOn makes the named operation fail with ErrInjected, e.g. "documents.create",
	// "documents.update", "sales.update", "movements.insert", "counterparties.update".
	FailOn map[string]bool
}

type memoryData struct {
	documents      map[uuid.UUID]fiscal.FiscalDocument
	sales          map[uuid.UUID]fiscal.Sale
	movements      map[uuid.UUID]ledger.Movement
	counterparties map[uuid.UUID]ledger.Counterparty
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: memoryData{
			documents:      map[uuid.UUID]fiscal.FiscalDocument{},
			sales:          map[uuid.UUID]fiscal.Sale{},
			movements:      map[uuid.UUID]ledger.Movement{},
			counterparties: map[uuid.UUID]ledger.Counterparty{},
		},
		FailOn: map[string]bool{},
	}
}

func (d memoryData) clone() memoryData {
	c := memoryData{
		documents:      make(map[uuid.UUID]fiscal.FiscalDocument, len(d.documents)),
		sales:          make(map[uuid.UUID]fiscal.Sale, len(d.sales)),
		movements:      make(map[uuid.UUID]ledger.Movement, len(d.movements)),
		counterparties: make(map[uuid.UUID]ledger.Counterparty, len(d.counterparties)),
	}
	for k, v := range d.documents {
		c.documents[k] = cloneDocument(v)
	}
	for k, v := range d.sales {
		c.sales[k] = v
	}
	for k, v := range d.movements {
		c.movements[k] = v
	}
	for k, v := range d.counterparties {
		c.counterparties[k] = v
	}
	return c
}

func cloneDocument(d fiscal.FiscalDocument) fiscal.FiscalDocument {
	d.Items = append([]fiscal.Item(nil), d.Items...)
	d.VatBreakdown = append([]fiscal.VatLine(nil), d.VatBreakdown...)
	d.Observations = append([]fiscal.Message(nil), d.Observations...)
	d.CreditNotes = append([]fiscal.NoteLink(nil), d.CreditNotes...)
	d.DebitNotes = append([]fiscal.NoteLink(nil), d.DebitNotes...)
	if d.Original != nil {
		o := *d.Original
		d.Original = &o
	}
	return d
}

// Execute runs fn against a private copy and publishes it when fn returns nil.
func (s *MemoryStore) Execute(ctx context.Context, fn func(repos fiscal.Repositories) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	work := s.data.clone()
	s.mu.Unlock()

	if err := fn(&memoryRepos{store: s, data: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.data = work
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) fail(op string) error {
	if s.FailOn[op] {
		return ErrInjected
	}
	return nil
}

// PutDocument seeds a document.
func (s *MemoryStore) PutDocument(d fiscal.FiscalDocument) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.documents[d.ID] = cloneDocument(d)
}

// PutSale seeds a sale.
func (s *MemoryStore) PutSale(sale fiscal.Sale) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.sales[sale.ID] = sale
}

// PutCounterparty seeds a counterparty.
func (s *MemoryStore) PutCounterparty(c ledger.Counterparty) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.counterparties[c.ID] = c
}

// PutMovement seeds a movement.
func (s *MemoryStore) PutMovement(m ledger.Movement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.movements[m.ID] = m
}

// Document returns the committed document with id.
func (s *MemoryStore) Document(id uuid.UUID) (fiscal.FiscalDocument, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.data.documents[id]
	return cloneDocument(d), ok
}

// Documents returns every committed document.
func (s *MemoryStore) Documents() []fiscal.FiscalDocument {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]fiscal.FiscalDocument, 0, len(s.data.documents))
	for _, d := range s.data.documents {
		out = append(out, cloneDocument(d))
	}
	return out
}

// Sale returns the committed sale with id.
func (s *MemoryStore) Sale(id uuid.UUID) (fiscal.Sale, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sale, ok := s.data.sales[id]
	return sale, ok
}

// Counterparty returns the committed counterparty with id.
func (s *MemoryStore) Counterparty(id uuid.UUID) (ledger.Counterparty, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.data.counterparties[id]
	return c, ok
}

// Movements returns the committed ledger of a counterparty in ledger order.
func (s *MemoryStore) Movements(counterpartyID uuid.UUID) []ledger.Movement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return movementsOf(s.data, counterpartyID)
}

func movementsOf(d memoryData, counterpartyID uuid.UUID) []ledger.Movement {
	var out []ledger.Movement
	for _, m := range d.movements {
		if m.CounterpartyID == counterpartyID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	ledger.Sort(out)
	return out
}

type memoryRepos struct {
	store *MemoryStore
	data  memoryData
}

func (r *memoryRepos) Documents() fiscal.DocumentRepository          { return memoryDocuments{r} }
func (r *memoryRepos) Sales() fiscal.SaleRepository                  { return memorySales{r} }
func (r *memoryRepos) Movements() ledger.MovementRepository          { return memoryMovements{r} }
func (r *memoryRepos) Counterparties() ledger.CounterpartyRepository { return memoryCounterparties{r} }

type memoryDocuments struct{ r *memoryRepos }

func (m memoryDocuments) Create(_ context.Context, doc *fiscal.FiscalDocument) error {
	if err := m.r.store.fail("documents.create"); err != nil {
		return err
	}
	m.r.data.documents[doc.ID] = cloneDocument(*doc)
	return nil
}

func (m memoryDocuments) Get(_ context.Context, id uuid.UUID) (*fiscal.FiscalDocument, error) {
	d, ok := m.r.data.documents[id]
	if !ok {
		return nil, fiscal.ErrNotFound
	}
	c := cloneDocument(d)
	return &c, nil
}

func (m memoryDocuments) Update(_ context.Context, doc *fiscal.FiscalDocument) error {
	if err := m.r.store.fail("documents.update"); err != nil {
		return err
	}
	if _, ok := m.r.data.documents[doc.ID]; !ok {
		return fiscal.ErrNotFound
	}
	m.r.data.documents[doc.ID] = cloneDocument(*doc)
	return nil
}

type memorySales struct{ r *memoryRepos }

func (m memorySales) Get(_ context.Context, id uuid.UUID) (*fiscal.Sale, error) {
	s, ok := m.r.data.sales[id]
	if !ok {
		return nil, fiscal.ErrNotFound
	}
	return &s, nil
}

func (m memorySales) Update(_ context.Context, sale *fiscal.Sale) error {
	if err := m.r.store.fail("sales.update"); err != nil {
		return err
	}
	m.r.data.sales[sale.ID] = *sale
	return nil
}

type memoryMovements struct{ r *memoryRepos }

func (m memoryMovements) ListByCounterparty(_ context.Context, counterpartyID uuid.UUID) ([]ledger.Movement, error) {
	return movementsOf(m.r.data, counterpartyID), nil
}

func (m memoryMovements) Insert(_ context.Context, mv ledger.Movement) error {
	if err := m.r.store.fail("movements.insert"); err != nil {
		return err
	}
	m.r.data.movements[mv.ID] = mv
	return nil
}

func (m memoryMovements) UpdateState(_ context.Context, mv ledger.Movement) error {
	if err := m.r.store.fail("movements.update"); err != nil {
		return err
	}
	stored, ok := m.r.data.movements[mv.ID]
	if !ok {
		return ledger.ErrNotFound
	}
	stored.RunningBalance = mv.RunningBalance
	stored.Voided = mv.Voided
	m.r.data.movements[mv.ID] = stored
	return nil
}

type memoryCounterparties struct{ r *memoryRepos }

func (m memoryCounterparties) Get(_ context.Context, id uuid.UUID) (*ledger.Counterparty, error) {
	c, ok := m.r.data.counterparties[id]
	if !ok {
		return nil, fiscal.ErrNotFound
	}
	return &c, nil
}

func (m memoryCounterparties) Update(_ context.Context, c *ledger.Counterparty) error {
	if err := m.r.store.fail("counterparties.update"); err != nil {
		return err
	}
	m.r.data.counterparties[c.ID] = *c
	return nil
}
