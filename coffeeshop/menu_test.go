package coffeeshop

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

const testMenuYAML = `
drinks:
  - name: Latte
    price: 4.00
    brew_seconds: 60
  - name: drip
    price: 2.00
    brew_seconds: 10
  - name: seasonal
    price: 5.00
    available: false
sizes:
  small: 0.5
  medium: 1
  large: 1.5
milks:
  oat: 0.75
extras:
  Extra  Shot: 1.00
`

func mustMenu(t *testing.T, doc string) *Menu {
	t.Helper()
	md, err := ParseMenu([]byte(doc))
	if err != nil {
		t.Fatalf("ParseMenu: %v", err)
	}
	m, err := NewMenu(md)
	if err != nil {
		t.Fatalf("NewMenu: %v", err)
	}
	return m
}

func TestDefaultMenuData(t *testing.T) {
	md := DefaultMenuData()
	if len(md.Drinks) == 0 {
		t.Fatalf("built-in menu has no drinks")
	}
	m, err := NewMenu(md)
	if err != nil {
		t.Fatalf("NewMenu: %v", err)
	}
	if d, ok := m.Drink("LATTE"); !ok || !d.IsAvailable() {
		t.Fatalf("latte = %+v, %v", d, ok)
	}
	if d, ok := m.Drink("matcha  latte"); !ok || d.IsAvailable() {
		t.Fatalf("matcha latte = %+v, %v", d, ok)
	}
}

func TestParseMenu_Normalizes(t *testing.T) {
	md, err := ParseMenu([]byte(testMenuYAML))
	if err != nil {
		t.Fatal(err)
	}
	names := make([]string, len(md.Drinks))
	for i, d := range md.Drinks {
		names[i] = d.Name
	}
	if diff := cmp.Diff([]string{"latte", "drip", "seasonal"}, names); diff != "" {
		t.Fatalf("drink names mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]float64{"extra shot": 1}, md.Extras); diff != "" {
		t.Fatalf("extras mismatch (-want +got):\n%s", diff)
	}
}

func TestParseMenu_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty", ""},
		{"no drinks", "sizes:\n  small: 1\n"},
		{"unknown key", "drinks:\n  - name: a\n    price: 1\n    colour: red\n"},
		{"nameless drink", "drinks:\n  - price: 1\n"},
		{"negative price", "drinks:\n  - name: a\n    price: -1\n"},
		{"duplicate drink", "drinks:\n  - name: a\n  - name: A\n"},
		{"zero size multiplier", "drinks:\n  - name: a\nsizes:\n  small: 0\n"},
		{"negative extra", "drinks:\n  - name: a\nextras:\n  syrup: -0.5\n"},
		{"not yaml", "drinks: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseMenu([]byte(tt.doc)); !errors.Is(err, ErrInvalidMenu) {
				t.Fatalf("err = %v, want ErrInvalidMenu", err)
			}
		})
	}
}

func TestLoadMenuFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "menu.yaml")
	if err := os.WriteFile(path, []byte(testMenuYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	md, err := LoadMenuFile(path)
	if err != nil {
		t.Fatalf("LoadMenuFile: %v", err)
	}
	if len(md.Drinks) != 3 {
		t.Fatalf("drinks = %d", len(md.Drinks))
	}

	if _, err := LoadMenuFile(filepath.Join(dir, "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("missing file err = %v", err)
	}
}

func TestMenuPrice(t *testing.T) {
	m := mustMenu(t, testMenuYAML)

	tests := []struct {
		name    string
		args    OrderArgs
		want    quote
		wantErr error
	}{
		{
			name: "defaults",
			args: OrderArgs{Drink: "latte"},
			want: quote{size: "medium", extras: []string{}, quantity: 1, unitPrice: 4, total: 4, etaSeconds: 60},
		},
		{
			name: "fully dressed",
			args: OrderArgs{Drink: " LATTE ", Size: "large", Milk: "oat", Extras: []string{"extra shot"}, Quantity: 3},
			want: quote{size: "large", milk: "oat", extras: []string{"extra shot"}, quantity: 3, unitPrice: 7.75, total: 23.25, etaSeconds: 180},
		},
		{
			name: "small drip",
			args: OrderArgs{Drink: "drip", Size: "small"},
			want: quote{size: "small", extras: []string{}, quantity: 1, unitPrice: 1, total: 1, etaSeconds: 10},
		},
		{name: "unknown drink", args: OrderArgs{Drink: "tea"}, wantErr: ErrUnknownDrink},
		{name: "unavailable", args: OrderArgs{Drink: "seasonal"}, wantErr: ErrDrinkUnavailable},
		{name: "unknown milk", args: OrderArgs{Drink: "latte", Milk: "soy"}, wantErr: ErrUnknownMilk},
		{name: "unknown extra", args: OrderArgs{Drink: "latte", Extras: []string{"sprinkles"}}, wantErr: ErrUnknownExtra},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.price(tt.args)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("price: %v", err)
			}
			if diff := cmp.Diff(tt.want, got, cmp.AllowUnexported(quote{}), cmpopts.IgnoreFields(quote{}, "drink")); diff != "" {
				t.Fatalf("quote mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMenuPrice_UnknownDrinkListsMenu(t *testing.T) {
	m := mustMenu(t, testMenuYAML)
	_, err := m.price(OrderArgs{Drink: "tea"})
	if err == nil {
		t.Fatal("expected error")
	}
	want := `unknown drink "tea"; the menu has latte, drip`
	if err.Error() != want {
		t.Fatalf("err = %q, want %q", err.Error(), want)
	}
}

func TestMenuReplace(t *testing.T) {
	m := mustMenu(t, testMenuYAML)
	sub := m.Subscriber()

	if err := m.Replace(MenuData{}); !errors.Is(err, ErrInvalidMenu) {
		t.Fatalf("Replace(empty) err = %v", err)
	}
	if _, ok := m.Drink("latte"); !ok {
		t.Fatalf("failed Replace dropped the current menu")
	}

	if err := m.Replace(MenuData{Drinks: []Drink{{Name: "Flat White", Price: 3.8}}}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	select {
	case <-sub:
	case <-time.After(time.Second):
		t.Fatal("no change signal after Replace")
	}
	if _, ok := m.Drink("latte"); ok {
		t.Fatalf("latte survived Replace")
	}
	q, err := m.price(OrderArgs{Drink: "flat white"})
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if q.size != "medium" || q.unitPrice != 3.8 {
		t.Fatalf("quote = %+v", q)
	}

	snap := m.Snapshot()
	snap.Drinks[0].Price = 100
	if d, _ := m.Drink("flat white"); d.Price != 3.8 {
		t.Fatalf("Snapshot aliases the live menu")
	}

	m.Close()
	if _, ok := <-sub; ok {
		t.Fatal("expected closed subscriber")
	}
}
