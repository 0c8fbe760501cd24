// Package identifier mints and checks the rotating identifiers handed out at
// each custody stage. The registry itself treats identifiers as opaque; these
// helpers are only used at the HTTP boundary.
package identifier

import (
	"encoding/binary"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"provenance/internal/provenance/models"
	dErrors "provenance/pkg/domain-errors"
)

const (
	randomLength = 9
	maxLength    = 128
)

var format = regexp.MustCompile(`^[A-Za-z0-9]+(-[A-Za-z0-9]+)*$`)

// Prefix returns the identifier prefix for the stage an item is entering.
func Prefix(stage models.Stage) string {
	switch stage {
	case models.StageDistributor:
		return "DIST"
	case models.StageRetailer:
		return "RET"
	default:
		return "PROD"
	}
}

// Generator produces identifiers of the form PREFIX-<millis base36>-<random>.
type Generator struct {
	now    func() time.Time
	random func() uuid.UUID
}

// Option configures a Generator.
type Option func(*Generator)

func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

func WithRandom(random func() uuid.UUID) Option {
	return func(g *Generator) { g.random = random }
}

func NewGenerator(opts ...Option) *Generator {
	g := &Generator{now: time.Now, random: uuid.New}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate mints an identifier for an item entering stage.
func (g *Generator) Generate(stage models.Stage) string {
	ts := strconv.FormatInt(g.now().UnixMilli(), 36)
	id := g.random()
	r := strconv.FormatUint(binary.BigEndian.Uint64(id[:8]), 36)
	if len(r) < randomLength {
		r = strings.Repeat("0", randomLength-len(r)) + r
	}
	return strings.ToUpper(Prefix(stage) + "-" + ts + "-" + r[:randomLength])
}

// ValidateFormat accepts letters, digits and single hyphens between them.
func ValidateFormat(identifier string) error {
	if identifier == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "identifier is required")
	}
	if len(identifier) > maxLength {
		return dErrors.New(dErrors.CodeInvalidInput, "identifier is too long")
	}
	if !format.MatchString(identifier) {
		return dErrors.New(dErrors.CodeInvalidInput, "identifier may only contain letters, digits and hyphens")
	}
	return nil
}
