package records

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"invoice-split/pkg/errdefs"
	"invoice-split/pkg/models"
)

func entries() []Entry {
	return []Entry{
		{
			AttachmentID: 7,
			Record: models.InvoiceRecord{
				InvoiceNumber: models.String("A-1"),
				TotalAmount:   models.Float(10),
				LineItems: []models.LineItem{
					{ItemName: "first", Quantity: models.Float(1)},
					{ItemName: "second"},
				},
			},
			S3PDFKey:  "invoices/7/scan_invoice_A-1.pdf",
			S3JSONKey: "invoices/7/scan_invoice_A-1.json",
		},
		{
			AttachmentID: 7,
			Record:       models.InvoiceRecord{VendorName: models.String("ACME")},
			S3PDFKey:     "invoices/7/scan_invoice_2.pdf",
			S3JSONKey:    "invoices/7/scan_invoice_2.json",
		},
	}
}

func TestPayloadIsFlat(t *testing.T) {
	data, err := json.Marshal(toPayload(entries()[1]))
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "ACME", m["vendor_name"])
	assert.Nil(t, m["invoice_number"])
	assert.Contains(t, m, "invoice_number")
	assert.Equal(t, float64(7), m["attachment_id"])
	assert.Equal(t, "invoices/7/scan_invoice_2.pdf", m["s3_pdf_key"])
	assert.Equal(t, []any{}, m["line_items"])
}

type recorder struct {
	mu      sync.Mutex
	batch   int
	singles []map[string]any
}

func newAPI(t *testing.T, batchStatus int, failSingle string) (*APIStore, *recorder) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		switch r.URL.Path {
		case "/api/v1/processor/invoices/batch":
			var body struct {
				Invoices []map[string]any `json:"invoices"`
			}
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			rec.batch = len(body.Invoices)
			w.WriteHeader(batchStatus)
		case "/api/v1/processor/invoices":
			var body map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			rec.singles = append(rec.singles, body)
			if body["s3_pdf_key"] == failSingle {
				http.Error(w, "rejected", http.StatusUnprocessableEntity)
				return
			}
			w.WriteHeader(http.StatusCreated)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return NewAPIStore(srv.URL, time.Second, zerolog.Nop()), rec
}

func TestAPIStoreBatch(t *testing.T) {
	store, rec := newAPI(t, http.StatusCreated, "")

	require.NoError(t, store.CreateBatch(context.Background(), entries()))
	assert.Equal(t, 2, rec.batch)
	assert.Empty(t, rec.singles)
}

func TestAPIStoreFallsBackToSingles(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusMethodNotAllowed, http.StatusNotImplemented, http.StatusServiceUnavailable} {
		store, rec := newAPI(t, status, "")

		require.NoError(t, store.CreateBatch(context.Background(), entries()), status)
		require.Len(t, rec.singles, 2, status)
		assert.Equal(t, "A-1", rec.singles[0]["invoice_number"])
		assert.Equal(t, "ACME", rec.singles[1]["vendor_name"])
	}
}

func TestAPIStoreSingleFailureIsGatewayWarning(t *testing.T) {
	store, rec := newAPI(t, http.StatusNotFound, "invoices/7/scan_invoice_A-1.pdf")

	err := store.CreateBatch(context.Background(), entries())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrGateway))
	assert.False(t, errdefs.IsFatal(err))
	assert.Len(t, rec.singles, 2, "later records are still attempted")
}

func TestAPIStoreBatchRejected(t *testing.T) {
	store, rec := newAPI(t, http.StatusBadRequest, "")

	err := store.CreateBatch(context.Background(), entries())
	assert.True(t, errors.Is(err, errdefs.ErrGateway))
	assert.Empty(t, rec.singles)
}

func TestAPIStoreTransportFailureFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := NewAPIStore(url, time.Second, zerolog.Nop()).CreateBatch(context.Background(), entries())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record 2")
}

func TestAPIStoreEmpty(t *testing.T) {
	assert.NoError(t, NewAPIStore("http://127.0.0.1:1", time.Second, zerolog.Nop()).CreateBatch(context.Background(), nil))
}

func newDBStore(t *testing.T) *DBStore {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	store, err := NewDBStore(db)
	require.NoError(t, err)
	return store
}

func TestDBStoreCreateAndList(t *testing.T) {
	store := newDBStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateBatch(ctx, entries()))
	require.NoError(t, store.CreateBatch(ctx, []Entry{{AttachmentID: 8, Record: models.InvoiceRecord{InvoiceNumber: models.String("B-1")}}}))

	all, err := store.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "B-1", *all[0].InvoiceNumber, "newest first")

	mine, err := store.List(ctx, ListFilter{AttachmentID: 7})
	require.NoError(t, err)
	require.Len(t, mine, 2)

	byNumber, err := store.List(ctx, ListFilter{InvoiceNumber: "A-1"})
	require.NoError(t, err)
	require.Len(t, byNumber, 1)
	inv := byNumber[0]
	assert.Equal(t, 10.0, *inv.TotalAmount)
	assert.Equal(t, "invoices/7/scan_invoice_A-1.json", inv.S3JSONKey)
	require.Len(t, inv.LineItems, 2)
	assert.Equal(t, "first", inv.LineItems[0].ItemName)
	assert.Equal(t, "second", inv.LineItems[1].ItemName)
	assert.Nil(t, inv.CustomerName)

	limited, err := store.List(ctx, ListFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestToRowKeepsOrder(t *testing.T) {
	row := ToRow(entries()[0])
	require.Len(t, row.LineItems, 2)
	assert.Equal(t, 0, row.LineItems[0].Position)
	assert.Equal(t, 1, row.LineItems[1].Position)
	assert.Equal(t, int64(7), row.AttachmentID)
}
