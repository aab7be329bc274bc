package authz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/accessgate/pkg/auth"
	"github.com/platinummonkey/accessgate/pkg/observability"
)

var tracer = observability.Tracer("authz")

// ErrForbidden is returned for every denied decision, including decisions
// that could not be made because a dependency failed
var ErrForbidden = errors.New("forbidden")

// DefaultElevatedRoles pass every requirement unless configured otherwise.
// They are asserted by the identity provider and read from the token.
var DefaultElevatedRoles = []string{"superadmin"}

// PermissionChecker answers permission queries against the current role
// graph. *rbac.Registry implements it.
type PermissionChecker interface {
	HasPermission(ctx context.Context, userID, permission string) (bool, error)
}

// RoleChecker reports whether a user currently holds any of the named
// roles. *rbac.Registry implements it.
type RoleChecker interface {
	HasAnyRole(ctx context.Context, userID string, roles ...string) (bool, error)
}

// Config configures an Authorizer
type Config struct {
	// ElevatedRoles are trusted from the token's role claim
	ElevatedRoles []string
	// RegistryElevatedRoles are managed in the role registry. Holding one
	// is confirmed against the registry at decision time, so revocation
	// applies to tokens already issued. A role listed here is never
	// trusted from the token.
	RegistryElevatedRoles []string
	Timeout               time.Duration // Bound on store and accessor calls (default: 2s)
}

// Authorizer decides whether a principal satisfies a Requirement. Decisions
// fail closed: any error while deciding is reported as ErrForbidden.
type Authorizer struct {
	checker          PermissionChecker
	elevated         map[string]struct{}
	registryElevated []string
	timeout          time.Duration
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewAuthorizer creates an authorizer backed by checker. logger and metrics
// may be nil.
func NewAuthorizer(checker PermissionChecker, config Config, logger *observability.Logger, metrics *observability.Metrics) *Authorizer {
	var registryElevated []string
	managed := make(map[string]struct{}, len(config.RegistryElevatedRoles))
	for _, r := range config.RegistryElevatedRoles {
		if r = strings.TrimSpace(r); r != "" {
			registryElevated = append(registryElevated, r)
			managed[r] = struct{}{}
		}
	}

	roles := config.ElevatedRoles
	if roles == nil {
		roles = DefaultElevatedRoles
	}
	elevated := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		r = strings.TrimSpace(r)
		if _, ok := managed[r]; r != "" && !ok {
			elevated[r] = struct{}{}
		}
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	return &Authorizer{
		checker:          checker,
		elevated:         elevated,
		registryElevated: registryElevated,
		timeout:          timeout,
		logger:           logger.WithField("component", "authz"),
		metrics:          metrics,
	}
}

// IsElevated reports whether p's token carries one of the elevated roles
// trusted from the identity provider. Registry managed elevation is only
// known at decision time; see Authorize.
func (a *Authorizer) IsElevated(p *auth.Principal) bool {
	if p == nil {
		return false
	}
	for _, r := range p.Roles {
		if _, ok := a.elevated[r]; ok {
			return true
		}
	}
	return false
}

// Authorize returns nil when p satisfies req and an error wrapping
// ErrForbidden otherwise
func (a *Authorizer) Authorize(ctx context.Context, p *auth.Principal, req Requirement) (err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "authz.Authorize",
		trace.WithAttributes(
			attribute.String("authz.requirement", req.kind.String()),
			attribute.String("authz.target", req.target()),
		),
	)
	defer span.End()

	defer func() {
		allowed := err == nil
		span.SetAttributes(attribute.Bool("authz.allowed", allowed))
		if !allowed {
			span.RecordError(err)
			span.SetStatus(codes.Error, "denied")
		}
		a.metrics.ObserveAuthorization(req.kind.String(), allowed, time.Since(start))
	}()

	if p == nil || p.Subject == "" {
		return fmt.Errorf("%w: no authenticated principal", ErrForbidden)
	}
	span.SetAttributes(attribute.String("authz.principal", p.Subject))

	if req.kind.String() == "unknown" {
		return fmt.Errorf("%w: unknown requirement", ErrForbidden)
	}
	if a.IsElevated(p) {
		span.SetAttributes(attribute.Bool("authz.elevated", true))
		return nil
	}

	if err := a.decide(ctx, p, req); err != nil {
		if a.confirmElevated(ctx, p) {
			span.SetAttributes(attribute.Bool("authz.elevated", true))
			return nil
		}
		return err
	}
	return nil
}

func (a *Authorizer) decide(ctx context.Context, p *auth.Principal, req Requirement) error {
	switch req.kind {
	case kindPermission:
		return a.checkPermission(ctx, p, req.permission)
	case kindAnyRole:
		if p.HasAnyRole(req.roles...) {
			return nil
		}
		return fmt.Errorf("%w: requires one of roles %s", ErrForbidden, strings.Join(req.roles, ", "))
	case kindOwnership:
		return a.checkOwnership(ctx, p, req.owner)
	default:
		return fmt.Errorf("%w: unknown requirement", ErrForbidden)
	}
}

// confirmElevated asks the registry whether p holds a registry managed
// elevated role. Any failure counts as not elevated.
func (a *Authorizer) confirmElevated(ctx context.Context, p *auth.Principal) bool {
	if len(a.registryElevated) == 0 {
		return false
	}
	roles, ok := a.checker.(RoleChecker)
	if !ok {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	held, err := roles.HasAnyRole(ctx, p.Subject, a.registryElevated...)
	if err != nil {
		a.logger.WithError(err).WithField("principal", p.Subject).Warn("Elevated role lookup failed, not elevating")
		return false
	}
	return held
}

func (a *Authorizer) checkPermission(ctx context.Context, p *auth.Principal, permission string) error {
	if permission == "" {
		return fmt.Errorf("%w: empty permission requirement", ErrForbidden)
	}
	if a.checker == nil {
		return fmt.Errorf("%w: no permission store configured", ErrForbidden)
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	ok, err := a.checker.HasPermission(ctx, p.Subject, permission)
	if err != nil {
		a.logger.WithError(err).WithFields(map[string]interface{}{
			"principal":  p.Subject,
			"permission": permission,
		}).Warn("Permission check failed, denying")
		return fmt.Errorf("%w: %w", ErrForbidden, err)
	}
	if !ok {
		return fmt.Errorf("%w: missing permission %s", ErrForbidden, permission)
	}
	return nil
}

func (a *Authorizer) checkOwnership(ctx context.Context, p *auth.Principal, owner OwnerFunc) error {
	if owner == nil {
		return fmt.Errorf("%w: no owner accessor", ErrForbidden)
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	ownerID, err := owner(ctx)
	if err != nil {
		a.logger.WithError(err).WithField("principal", p.Subject).Warn("Owner lookup failed, denying")
		return fmt.Errorf("%w: %w", ErrForbidden, err)
	}
	if ownerID == "" || ownerID != p.Subject {
		return fmt.Errorf("%w: not the resource owner", ErrForbidden)
	}
	return nil
}
