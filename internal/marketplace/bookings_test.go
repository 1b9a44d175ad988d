package marketplace_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/moverspay/internal/booking"
	"github.com/sudo-init-do/moverspay/internal/escrow"
	"github.com/sudo-init-do/moverspay/internal/ledger"
	"github.com/sudo-init-do/moverspay/internal/marketplace"
	"github.com/sudo-init-do/moverspay/internal/memstore"
	"github.com/sudo-init-do/moverspay/internal/review"
)

type api struct {
	store *memstore.Store
	e     *echo.Echo
}

// asCaller stands in for the JWT middleware.
func asCaller(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Set("user_id", c.Request().Header.Get("X-User"))
		c.Set("role", c.Request().Header.Get("X-Role"))
		return next(c)
	}
}

func newAPI(t *testing.T, balance int64) *api {
	t.Helper()
	s := memstore.New()
	s.PutUser(ledger.User{ID: "u1", Balance: balance})
	s.PutDriver(ledger.Driver{ID: "d1", IsVerified: true, IsAvailable: true})
	escrows := escrow.NewManager(s)
	reviews := review.NewService(s, nil)
	bookings := booking.NewService(s, escrows, booking.Options{FeeRate: escrow.MustFeeRate("0.10"), Reviews: reviews})
	h := marketplace.NewHandler(bookings, nil, reviews, escrows)

	e := echo.New()
	g := e.Group("", asCaller)
	g.POST("/bookings", h.CreateBooking)
	g.GET("/bookings/:id", h.GetBooking)
	g.POST("/bookings/:id/accept", h.AcceptBooking)
	g.POST("/bookings/:id/complete", h.CompleteBooking)
	g.POST("/bookings/:id/cancel", h.CancelBooking)
	g.POST("/bookings/:id/review", h.CreateReview)
	g.GET("/driver/bookings/pending", h.PendingRequests)
	return &api{store: s, e: e}
}

func (a *api) do(t *testing.T, method, path, body, user, role string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("X-User", user)
	req.Header.Set("X-Role", role)
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

const bookingBody = `{"driver_id":"d1","pickup":"Westlands","dropoff":"Kilimani","distance_km":7.5,"price":1000,"payment_method":"wallet"}`

func TestWalletBookingFlow(t *testing.T) {
	a := newAPI(t, 1000)

	rec := a.do(t, http.MethodPost, "/bookings", bookingBody, "u1", "user")
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Booking booking.Booking `json:"booking"`
		Escrow  escrow.Escrow   `json:"escrow"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.Escrow.PlatformFee != 100 || created.Escrow.PayeeAmount != 900 {
		t.Fatalf("escrow = %+v", created.Escrow)
	}
	id := created.Booking.ID

	if rec := a.do(t, http.MethodGet, "/bookings/"+id, "", "u2", "user"); rec.Code != http.StatusNotFound {
		t.Fatalf("stranger view status = %d", rec.Code)
	}
	if rec := a.do(t, http.MethodPost, "/bookings/"+id+"/accept", "", "d1", "driver"); rec.Code != http.StatusOK {
		t.Fatalf("accept status = %d %s", rec.Code, rec.Body.String())
	}
	if rec := a.do(t, http.MethodPost, "/bookings/"+id+"/complete", "", "d1", "driver"); rec.Code != http.StatusOK {
		t.Fatalf("complete status = %d %s", rec.Code, rec.Body.String())
	}

	rec = a.do(t, http.MethodPost, "/bookings/"+id+"/cancel", "", "u1", "user")
	if rec.Code != http.StatusConflict {
		t.Fatalf("cancel after release status = %d", rec.Code)
	}

	rec = a.do(t, http.MethodPost, "/bookings/"+id+"/review", `{"rating":5,"comment":"great"}`, "u1", "user")
	if rec.Code != http.StatusCreated {
		t.Fatalf("review status = %d %s", rec.Code, rec.Body.String())
	}

	d, _ := a.store.GetDriver(context.Background(), "d1")
	if d.Earnings != 900 || d.Rating != 5 {
		t.Fatalf("driver = %+v", d)
	}
}

func TestCreateBookingErrors(t *testing.T) {
	a := newAPI(t, 500)

	if rec := a.do(t, http.MethodPost, "/bookings", bookingBody, "u1", "user"); rec.Code != http.StatusPaymentRequired {
		t.Fatalf("insufficient funds status = %d", rec.Code)
	}
	bad := strings.Replace(bookingBody, `"wallet"`, `"cash"`, 1)
	if rec := a.do(t, http.MethodPost, "/bookings", bad, "u1", "user"); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown method status = %d", rec.Code)
	}
	noPickup := strings.Replace(bookingBody, `"Westlands"`, `""`, 1)
	if rec := a.do(t, http.MethodPost, "/bookings", noPickup, "u1", "user"); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing pickup status = %d", rec.Code)
	}
}

func TestCancelRules(t *testing.T) {
	a := newAPI(t, 1000)
	rec := a.do(t, http.MethodPost, "/bookings", bookingBody, "u1", "user")
	var created struct {
		Booking booking.Booking `json:"booking"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	path := "/bookings/" + created.Booking.ID

	if rec := a.do(t, http.MethodPost, path+"/cancel", "", "d1", "driver"); rec.Code != http.StatusConflict {
		t.Fatalf("driver cancel of pending booking status = %d", rec.Code)
	}
	if rec := a.do(t, http.MethodPost, path+"/accept", "", "d1", "driver"); rec.Code != http.StatusOK {
		t.Fatalf("accept status = %d", rec.Code)
	}
	if rec := a.do(t, http.MethodPost, path+"/cancel", "", "u1", "user"); rec.Code != http.StatusConflict {
		t.Fatalf("user cancel of accepted booking status = %d", rec.Code)
	}

	rec = a.do(t, http.MethodPost, path+"/cancel", "", "d1", "driver")
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel status = %d %s", rec.Code, rec.Body.String())
	}
	u, _ := a.store.GetUser(context.Background(), "u1")
	if u.Balance != 1000 {
		t.Fatalf("balance = %d, want 1000", u.Balance)
	}
}

func TestPendingRequestsForDriver(t *testing.T) {
	a := newAPI(t, 1000)
	a.store.PutDriver(ledger.Driver{ID: "d2", IsVerified: true, IsAvailable: true})

	pending := func(driver string) []booking.Booking {
		t.Helper()
		rec := a.do(t, http.MethodGet, "/driver/bookings/pending", "", driver, "driver")
		if rec.Code != http.StatusOK {
			t.Fatalf("pending status = %d %s", rec.Code, rec.Body.String())
		}
		var out []booking.Booking
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatal(err)
		}
		return out
	}

	if got := pending("d1"); len(got) != 0 {
		t.Fatalf("before booking got %d", len(got))
	}
	rec := a.do(t, http.MethodPost, "/bookings", bookingBody, "u1", "user")
	var created struct {
		Booking booking.Booking `json:"booking"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}

	got := pending("d1")
	if len(got) != 1 || got[0].ID != created.Booking.ID {
		t.Fatalf("pending = %+v", got)
	}
	if got := pending("d2"); len(got) != 0 {
		t.Fatalf("other driver sees %d", len(got))
	}

	if rec := a.do(t, http.MethodPost, "/bookings/"+created.Booking.ID+"/accept", "", "d1", "driver"); rec.Code != http.StatusOK {
		t.Fatalf("accept status = %d", rec.Code)
	}
	if got := pending("d1"); len(got) != 0 {
		t.Fatalf("accepted booking still pending: %+v", got)
	}
}
