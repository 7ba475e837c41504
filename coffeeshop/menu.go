package coffeeshop

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"maps"
	"math"
	"os"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ggoodman/mcp-coffee-shop/mcpservice"
)

//go:embed default_menu.yaml
var defaultMenuYAML []byte

var (
	// ErrInvalidMenu is returned when a menu document is malformed.
	ErrInvalidMenu = errors.New("invalid menu")

	// ErrUnknownDrink is returned when an order names a drink that is not on the menu.
	ErrUnknownDrink = errors.New("unknown drink")
	// ErrDrinkUnavailable is returned when a drink is on the menu but cannot be ordered right now.
	ErrDrinkUnavailable = errors.New("drink unavailable")
	// ErrUnknownSize is returned for a cup size the menu does not price.
	ErrUnknownSize = errors.New("size not offered")
	// ErrUnknownMilk is returned for a milk the menu does not stock.
	ErrUnknownMilk = errors.New("milk not offered")
	// ErrUnknownExtra is returned for an add-on the menu does not list.
	ErrUnknownExtra = errors.New("extra not offered")
)

const defaultSize = "medium"

// Drink is one entry on the menu.
type Drink struct {
	Name        string  `yaml:"name"`
	Price       float64 `yaml:"price"`
	BrewSeconds int     `yaml:"brew_seconds"`
	// Available defaults to true when omitted.
	Available *bool `yaml:"available,omitempty"`
}

// IsAvailable reports whether the drink can be ordered.
func (d Drink) IsAvailable() bool { return d.Available == nil || *d.Available }

// MenuData is the decoded content of a menu document. Sizes map a size name
// to a price multiplier; milks and extras map a name to a surcharge.
type MenuData struct {
	Drinks []Drink            `yaml:"drinks"`
	Sizes  map[string]float64 `yaml:"sizes"`
	Milks  map[string]float64 `yaml:"milks"`
	Extras map[string]float64 `yaml:"extras"`
}

func (md MenuData) clone() MenuData {
	out := MenuData{
		Drinks: slices.Clone(md.Drinks),
		Sizes:  maps.Clone(md.Sizes),
		Milks:  maps.Clone(md.Milks),
		Extras: maps.Clone(md.Extras),
	}
	for i, d := range out.Drinks {
		if d.Available != nil {
			v := *d.Available
			out.Drinks[i].Available = &v
		}
	}
	return out
}

// ParseMenu decodes and validates a YAML menu document. Names are normalized
// to lower case. Unknown keys are rejected.
func ParseMenu(data []byte) (MenuData, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var md MenuData
	if err := dec.Decode(&md); err != nil {
		if errors.Is(err, io.EOF) {
			return MenuData{}, fmt.Errorf("%w: empty document", ErrInvalidMenu)
		}
		return MenuData{}, fmt.Errorf("%w: %w", ErrInvalidMenu, err)
	}
	md, err := normalizeMenu(md)
	if err != nil {
		return MenuData{}, err
	}
	return md, nil
}

// LoadMenuFile reads and parses the menu at path.
func LoadMenuFile(path string) (MenuData, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return MenuData{}, fmt.Errorf("read menu %s: %w", path, err)
	}
	md, err := ParseMenu(b)
	if err != nil {
		return MenuData{}, fmt.Errorf("parse menu %s: %w", path, err)
	}
	return md, nil
}

// DefaultMenuData returns a copy of the built-in menu.
func DefaultMenuData() MenuData {
	md, err := ParseMenu(defaultMenuYAML)
	if err != nil {
		panic(fmt.Sprintf("coffeeshop: built-in menu: %v", err))
	}
	return md
}

func normalizeName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func normalizeMenu(md MenuData) (MenuData, error) {
	if len(md.Drinks) == 0 {
		return MenuData{}, fmt.Errorf("%w: no drinks", ErrInvalidMenu)
	}
	out := md.clone()
	seen := make(map[string]struct{}, len(out.Drinks))
	for i, d := range out.Drinks {
		name := normalizeName(d.Name)
		switch {
		case name == "":
			return MenuData{}, fmt.Errorf("%w: drink %d has no name", ErrInvalidMenu, i)
		case d.Price < 0:
			return MenuData{}, fmt.Errorf("%w: drink %q has a negative price", ErrInvalidMenu, name)
		case d.BrewSeconds < 0:
			return MenuData{}, fmt.Errorf("%w: drink %q has a negative brew time", ErrInvalidMenu, name)
		}
		if _, dup := seen[name]; dup {
			return MenuData{}, fmt.Errorf("%w: duplicate drink %q", ErrInvalidMenu, name)
		}
		seen[name] = struct{}{}
		out.Drinks[i].Name = name
	}

	var err error
	if out.Sizes, err = normalizePrices("size", out.Sizes, false); err != nil {
		return MenuData{}, err
	}
	if len(out.Sizes) == 0 {
		out.Sizes = map[string]float64{defaultSize: 1}
	}
	if out.Milks, err = normalizePrices("milk", out.Milks, true); err != nil {
		return MenuData{}, err
	}
	if out.Extras, err = normalizePrices("extra", out.Extras, true); err != nil {
		return MenuData{}, err
	}
	return out, nil
}

func normalizePrices(kind string, in map[string]float64, allowZero bool) (map[string]float64, error) {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		name := normalizeName(k)
		if name == "" {
			return nil, fmt.Errorf("%w: %s with empty name", ErrInvalidMenu, kind)
		}
		if v < 0 || (!allowZero && v == 0) {
			return nil, fmt.Errorf("%w: %s %q has invalid value %v", ErrInvalidMenu, kind, name, v)
		}
		if _, dup := out[name]; dup {
			return nil, fmt.Errorf("%w: duplicate %s %q", ErrInvalidMenu, kind, name)
		}
		out[name] = v
	}
	return out, nil
}

// Menu is the live, thread-safe menu the order tool prices against. Replace
// swaps the whole menu and signals subscribers.
type Menu struct {
	mu     sync.RWMutex
	data   MenuData
	drinks map[string]Drink

	notifier mcpservice.ChangeNotifier
}

// NewMenu constructs a Menu from data, validating it first.
func NewMenu(data MenuData) (*Menu, error) {
	m := &Menu{}
	if err := m.set(data); err != nil {
		return nil, err
	}
	return m, nil
}

// Replace validates data and atomically swaps it in. On error the current
// menu is kept.
func (m *Menu) Replace(data MenuData) error {
	if err := m.set(data); err != nil {
		return err
	}
	_ = m.notifier.Notify(context.Background())
	return nil
}

func (m *Menu) set(data MenuData) error {
	md, err := normalizeMenu(data)
	if err != nil {
		return err
	}
	drinks := make(map[string]Drink, len(md.Drinks))
	for _, d := range md.Drinks {
		drinks[d.Name] = d
	}
	m.mu.Lock()
	m.data = md
	m.drinks = drinks
	m.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the current menu.
func (m *Menu) Snapshot() MenuData {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.clone()
}

// Drink looks up a drink by name, ignoring case and extra whitespace.
func (m *Menu) Drink(name string) (Drink, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drinks[normalizeName(name)]
	return d, ok
}

// Subscriber returns a channel signalled after every successful Replace.
func (m *Menu) Subscriber() <-chan struct{} { return m.notifier.Subscriber() }

// Close releases subscribers.
func (m *Menu) Close() { m.notifier.Close() }

// quote is a priced order line.
type quote struct {
	drink      Drink
	size       string
	milk       string
	extras     []string
	quantity   int
	unitPrice  float64
	total      float64
	etaSeconds int
}

// price prices args against the current menu. Every error it returns is a
// customer-facing rejection.
func (m *Menu) price(args OrderArgs) (quote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	name := normalizeName(args.Drink)
	d, ok := m.drinks[name]
	if !ok {
		return quote{}, fmt.Errorf("%w %q; the menu has %s", ErrUnknownDrink, args.Drink, strings.Join(m.availableLocked(), ", "))
	}
	if !d.IsAvailable() {
		return quote{}, fmt.Errorf("%w: %s is off the menu today", ErrDrinkUnavailable, d.Name)
	}

	size := normalizeName(args.Size)
	if size == "" {
		size = defaultSize
		if _, ok := m.data.Sizes[size]; !ok {
			size = slices.Sorted(maps.Keys(m.data.Sizes))[0]
		}
	}
	mult, ok := m.data.Sizes[size]
	if !ok {
		return quote{}, fmt.Errorf("%w: %q", ErrUnknownSize, args.Size)
	}

	unit := d.Price * mult

	milk := normalizeName(args.Milk)
	if milk != "" {
		surcharge, ok := m.data.Milks[milk]
		if !ok {
			return quote{}, fmt.Errorf("%w: %q", ErrUnknownMilk, args.Milk)
		}
		unit += surcharge
	}

	extras := make([]string, 0, len(args.Extras))
	for _, e := range args.Extras {
		extra := normalizeName(e)
		surcharge, ok := m.data.Extras[extra]
		if !ok {
			return quote{}, fmt.Errorf("%w: %q", ErrUnknownExtra, e)
		}
		unit += surcharge
		extras = append(extras, extra)
	}

	qty := args.Quantity
	if qty <= 0 {
		qty = 1
	}
	unit = roundCents(unit)

	return quote{
		drink:      d,
		size:       size,
		milk:       milk,
		extras:     extras,
		quantity:   qty,
		unitPrice:  unit,
		total:      roundCents(unit * float64(qty)),
		etaSeconds: d.BrewSeconds * qty,
	}, nil
}

func (m *Menu) availableLocked() []string {
	var names []string
	for _, d := range m.data.Drinks {
		if d.IsAvailable() {
			names = append(names, d.Name)
		}
	}
	return names
}

func roundCents(v float64) float64 { return math.Round(v*100) / 100 }
