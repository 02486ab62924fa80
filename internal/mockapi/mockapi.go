// Package mockapi serves a small shop API with deliberate flaws. It is
// the target the persona agents are pointed at: a case-sensitive
// search, an inconsistent cart endpoint, an artificially slow cart
// fetch, an undocumented checkout field, an oversharing admin error
// and hidden per-product fees.
package mockapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCartDelay is the artificial latency on GET /cart.
const DefaultCartDelay = 2500 * time.Millisecond

// Product is one shop item.
type Product struct {
	ID          int     `json:"id"`
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	Description string  `json:"description"`
	Category    string  `json:"category"`
}

func catalog() []Product {
	return []Product{
		{ID: 1, Name: "Gaming Laptop", Price: 1299.99, Description: "High-performance gaming laptop with RTX graphics", Category: "Electronics"},
		{ID: 2, Name: "Wireless Mouse", Price: 29.99, Description: "Ergonomic wireless mouse with precision tracking", Category: "Accessories"},
		{ID: 3, Name: "Mechanical Keyboard", Price: 149.99, Description: "RGB mechanical keyboard with tactile switches", Category: "Accessories"},
		{ID: 4, Name: "4K Monitor", Price: 399.99, Description: "27-inch 4K UHD monitor with HDR support", Category: "Electronics"},
		{ID: 5, Name: "USB-C Hub", Price: 79.99, Description: "Multi-port USB-C hub with HDMI and Ethernet", Category: "Accessories"},
	}
}

// Server holds one shop's state. Each Server is independent, so tests
// and parallel sessions never see each other's carts.
type Server struct {
	address string
	port    int
	logger  *slog.Logger

	cartDelay time.Duration
	products  []Product

	mu           sync.Mutex
	cartItems    []map[string]any
	cartAddCount int

	server *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithCartDelay overrides the artificial GET /cart latency. Tests use
// this to avoid multi-second sleeps.
func WithCartDelay(d time.Duration) Option {
	return func(s *Server) {
		s.cartDelay = d
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a shop server with a fresh catalog and an empty cart.
func New(address string, port int, opts ...Option) *Server {
	s := &Server{
		address:   address,
		port:      port,
		logger:    slog.Default(),
		cartDelay: DefaultCartDelay,
		products:  catalog(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the route table. Exposed for httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /products", s.handleProducts)
	mux.HandleFunc("GET /search", s.handleSearch)
	mux.HandleFunc("POST /cart/add", s.handleCartAdd)
	mux.HandleFunc("GET /cart", s.handleCart)
	mux.HandleFunc("POST /checkout", s.handleCheckout)
	mux.HandleFunc("GET /admin/users", s.handleAdminUsers)
	mux.HandleFunc("GET /products/{id}/total_cost", s.handleTotalCost)

	return mux
}

// Start begins serving. It blocks until the listener fails or the
// server is shut down.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.address, s.port),
		Handler: s.Handler(),
		// ReadTimeout only: /cart responses outlive any sane write
		// deadline on purpose.
		ReadTimeout: 10 * time.Second,
	}
	s.logger.Info("starting mock shop API", "address", s.address, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) write(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write JSON response", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.write(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "mock-api",
	})
}

func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	s.write(w, http.StatusOK, map[string]any{
		"products": s.products,
		"total":    len(s.products),
		"page":     1,
		"per_page": 10,
	})
}

// handleSearch matches the query against product names with a plain
// case-sensitive substring test. "laptop" finds nothing; "Laptop"
// does. The flaw is the point.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if !r.URL.Query().Has("q") {
		s.write(w, http.StatusUnprocessableEntity, map[string]any{
			"detail": []map[string]any{{
				"loc":  []string{"query", "q"},
				"msg":  "Field required",
				"type": "missing",
			}},
		})
		return
	}
	q := r.URL.Query().Get("q")

	results := []Product{}
	for _, p := range s.products {
		if strings.Contains(p.Name, q) {
			results = append(results, p)
		}
	}

	s.write(w, http.StatusOK, map[string]any{
		"results": results,
		"query":   q,
		"total":   len(results),
	})
}

// handleCartAdd answers with a full cart object on the first call and
// a bare message on every later one. The shape change is deliberate.
func (s *Server) handleCartAdd(w http.ResponseWriter, r *http.Request) {
	var item map[string]any
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		s.write(w, http.StatusBadRequest, map[string]string{"detail": "invalid request body"})
		return
	}

	s.mu.Lock()
	s.cartAddCount++
	s.cartItems = append(s.cartItems, item)
	first := s.cartAddCount == 1
	items := append([]map[string]any(nil), s.cartItems...)
	s.mu.Unlock()

	if first {
		s.write(w, http.StatusOK, map[string]any{
			"cart": map[string]any{
				"items":       items,
				"total_items": len(items),
			},
		})
		return
	}
	s.write(w, http.StatusOK, map[string]string{
		"message": "Item added to cart successfully",
	})
}

func (s *Server) handleCart(w http.ResponseWriter, r *http.Request) {
	// Frustratingly slow on purpose.
	select {
	case <-time.After(s.cartDelay):
	case <-r.Context().Done():
		return
	}

	s.mu.Lock()
	items := append([]map[string]any(nil), s.cartItems...)
	s.mu.Unlock()

	s.write(w, http.StatusOK, map[string]any{
		"items":   items,
		"total":   len(items),
		"message": "Cart loaded successfully",
	})
}

// handleCheckout requires a tax_id the API documentation never
// mentions. The 400 response lists every required field, which is the
// only place the requirement is discoverable.
func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.write(w, http.StatusBadRequest, map[string]string{"detail": "invalid request body"})
		return
	}

	required := []string{"shipping_address", "billing_address", "tax_id"}
	missing := []string{}
	for _, field := range required {
		if _, ok := payload[field]; !ok {
			missing = append(missing, field)
		}
	}

	if len(missing) > 0 {
		s.write(w, http.StatusBadRequest, map[string]any{
			"detail": map[string]any{
				"error":           "Missing required fields",
				"required_fields": required,
				"missing":         missing,
			},
		})
		return
	}

	s.write(w, http.StatusOK, map[string]string{
		"message":  "Checkout successful",
		"order_id": uuid.NewString(),
	})
}

func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	// Reveals far more about the system than a 403 should.
	s.write(w, http.StatusForbidden, map[string]string{
		"detail": "Access denied. Admin database connection requires elevated privileges. Contact system administrator for user table access.",
	})
}

// handleTotalCost is the only place the shop admits to its fees.
func (s *Server) handleTotalCost(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		s.write(w, http.StatusNotFound, map[string]string{"detail": "Product not found"})
		return
	}

	var product *Product
	for i := range s.products {
		if s.products[i].ID == id {
			product = &s.products[i]
			break
		}
	}
	if product == nil {
		s.write(w, http.StatusNotFound, map[string]string{"detail": "Product not found"})
		return
	}

	fees := []map[string]any{
		{"type": "processing_fee", "amount": product.Price * 0.03},
		{"type": "handling_fee", "amount": 5.99},
		{"type": "convenience_fee", "amount": 2.50},
	}
	totalFees := 0.0
	for _, fee := range fees {
		totalFees += fee["amount"].(float64)
	}

	s.write(w, http.StatusOK, map[string]any{
		"product_id": id,
		"base_price": product.Price,
		"fees":       fees,
		"total_cost": product.Price + totalFees,
	})
}
