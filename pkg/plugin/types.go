package plugin

import (
	"context"
	"database/sql"
	"time"
)

// Status represents the current lifecycle state of a registered plugin
type Status string

const (
	StatusInactive   Status = "inactive"
	StatusLoading    Status = "loading"
	StatusActive     Status = "active"
	StatusError      Status = "error"
	StatusDisabled   Status = "disabled"
	StatusDeprecated Status = "deprecated"
)

// Type classifies what a plugin extends
type Type string

const (
	TypeServer       Type = "server"
	TypeClient       Type = "client"
	TypeUniversal    Type = "universal"
	TypeAdapter      Type = "adapter"
	TypeMiddleware   Type = "middleware"
	TypeAuthProvider Type = "auth-provider"
	TypeDatabase     Type = "database"
	TypeUIComponent  Type = "ui-component"
	TypeExtension    Type = "extension"
)

// ValidTypes is the set of recognized plugin types
var ValidTypes = map[Type]bool{
	TypeServer:       true,
	TypeClient:       true,
	TypeUniversal:    true,
	TypeAdapter:      true,
	TypeMiddleware:   true,
	TypeAuthProvider: true,
	TypeDatabase:     true,
	TypeUIComponent:  true,
	TypeExtension:    true,
}

// PriorityLevel is a symbolic plugin priority, mapped to a numeric weight
type PriorityLevel string

const (
	PriorityLowest  PriorityLevel = "lowest"
	PriorityLow     PriorityLevel = "low"
	PriorityNormal  PriorityLevel = "normal"
	PriorityHigh    PriorityLevel = "high"
	PriorityHighest PriorityLevel = "highest"
)

var priorityWeights = map[PriorityLevel]int{
	PriorityLowest:  0,
	PriorityLow:     25,
	PriorityNormal:  50,
	PriorityHigh:    75,
	PriorityHighest: 100,
}

// Weight returns the numeric weight for a priority level.
// Unknown levels map to the normal weight.
func (p PriorityLevel) Weight() int {
	if w, ok := priorityWeights[p]; ok {
		return w
	}
	return priorityWeights[PriorityNormal]
}

// Valid reports whether the priority level is recognized
func (p PriorityLevel) Valid() bool {
	_, ok := priorityWeights[p]
	return ok
}

// LifecyclePhase identifies a plugin lifecycle phase
type LifecyclePhase string

const (
	PhaseInitialize       LifecyclePhase = "initialize"
	PhaseBeforeRegister   LifecyclePhase = "beforeRegister"
	PhaseAfterRegister    LifecyclePhase = "afterRegister"
	PhaseBeforeUnregister LifecyclePhase = "beforeUnregister"
	PhaseAfterUnregister  LifecyclePhase = "afterUnregister"
	PhaseDestroy          LifecyclePhase = "destroy"
)

// LifecycleFunc is a plugin-declared lifecycle function.
// It receives the plugin's own runtime context.
type LifecycleFunc func(ctx context.Context, pc *Context) error

// HookHandler transforms hook pipeline data. It receives the current
// value and returns the next one.
type HookHandler func(ctx context.Context, data any) (any, error)

// HookSpec declares a hook handler in a plugin descriptor
type HookSpec struct {
	Handler  HookHandler
	Priority int
	Timeout  time.Duration
	Retries  int
}

// Next continues a middleware chain. A handler that never calls it
// halts the chain.
type Next func(ctx context.Context) error

// MiddlewareHandler processes a request/response pair in a chain
type MiddlewareHandler func(ctx context.Context, req *Request, res *Response, next Next) error

// MiddlewareSpec declares a middleware entry in a plugin descriptor.
// An empty Path makes the entry global.
type MiddlewareSpec struct {
	Name     string
	Path     string
	Methods  []string
	Priority int
	Handler  MiddlewareHandler
}

// RouteSpec declares an HTTP-style route contributed by a plugin.
// The core only records routes; the wire transport lives elsewhere.
type RouteSpec struct {
	Method      string
	Path        string
	Handler     MiddlewareHandler
	Auth        bool
	Permissions []string
}

// Dependency declares a dependency on another plugin, with an optional
// semver constraint (e.g. "^1.2.0").
type Dependency struct {
	ID      string
	Version string
}

// Descriptor is the declarative unit describing a plugin
type Descriptor struct {
	ID               string
	Name             string
	Version          string
	Type             Type
	Priority         PriorityLevel
	Description      string
	Author           string
	Tags             []string
	Categories       []string
	Dependencies     []Dependency
	PeerDependencies []Dependency
	DefaultConfig    map[string]any
	ConfigSchema     map[string]any
	AutoEnable       bool

	// Hooks is an open string-keyed map of hook names to handler
	// specs, validated at registration against the known-hook-name
	// set for the plugin type.
	Hooks map[string]HookSpec

	Middleware []MiddlewareSpec
	Routes     []RouteSpec

	Initialize LifecycleFunc
	Destroy    LifecycleFunc

	// Lifecycle holds the remaining optional phase functions
	// (beforeRegister, afterRegister, beforeUnregister, afterUnregister).
	Lifecycle map[LifecyclePhase]LifecycleFunc
}

// Record is a registered plugin: descriptor plus registration state
type Record struct {
	Descriptor   *Descriptor
	Status       Status
	Enabled      bool
	RegisteredAt time.Time
	UpdatedAt    time.Time
}

// Request is the abstract request seen by middleware and route handlers
type Request struct {
	Method  string
	Path    string
	Headers map[string]string
	Query   map[string]string
	Params  map[string]string
	Body    any
}

// Response is the abstract response middleware may write to
type Response struct {
	Status  int
	Headers map[string]string
	Body    any
	Written bool
}

// NewResponse returns an empty response
func NewResponse() *Response {
	return &Response{Headers: make(map[string]string)}
}

// Write records a response body and marks the response as written
func (r *Response) Write(status int, body any) {
	r.Status = status
	r.Body = body
	r.Written = true
}

// PerformanceSnapshot captures per-plugin runtime measurements
type PerformanceSnapshot struct {
	LoadTime       time.Duration
	MemoryEstimate int64
	CPUEstimate    float64
	HookLatencies  map[string]time.Duration
	ErrorCount     int
	LastActivity   time.Time
}

// HealthState is a derived plugin health classification
type HealthState string

const (
	HealthHealthy  HealthState = "healthy"
	HealthDegraded HealthState = "degraded"
	HealthError    HealthState = "error"
	HealthUnknown  HealthState = "unknown"
)

// HealthReport is the derived health surface for one plugin
type HealthReport struct {
	PluginID string
	State    HealthState
	Score    int
	Issues   []string
	At       time.Time
}

// AuthHandle is the opaque handle to the wrapped external
// authentication engine injected into plugin contexts.
type AuthHandle interface {
	CreateUser(ctx context.Context, attrs map[string]any) (string, error)
	GetUser(ctx context.Context, id string) (map[string]any, error)
	DeleteUser(ctx context.Context, id string) error
	SignIn(ctx context.Context, credentials map[string]any) (string, error)
	SignOut(ctx context.Context, sessionID string) error
	GetSession(ctx context.Context, sessionID string) (map[string]any, error)
}

// Collaborators are the external handles injected into every context
type Collaborators struct {
	Auth        AuthHandle
	Database    *sql.DB
	Environment map[string]string
}
