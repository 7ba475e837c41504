package coffeeshop

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ggoodman/mcp-coffee-shop/mcpservice"
	"github.com/ggoodman/mcp-coffee-shop/sessions"
)

// ToolName is the name the order tool is registered under.
const ToolName = "order_coffee"

const currency = "USD"

// OrderArgs is the input of the order_coffee tool.
type OrderArgs struct {
	Drink    string   `json:"drink" jsonschema:"description=Drink name from the menu (e.g. latte)"`
	Size     string   `json:"size,omitempty" jsonschema:"description=Cup size from the menu; defaults to medium"`
	Milk     string   `json:"milk,omitempty" jsonschema:"description=Milk from the menu; omit for none"`
	Extras   []string `json:"extras,omitempty" jsonschema:"description=Add-ons such as vanilla or extra shot"`
	Quantity int      `json:"quantity,omitempty" jsonschema:"minimum=1,maximum=10,description=Number of drinks; defaults to 1"`
	Name     string   `json:"name,omitempty" jsonschema:"description=Name to call out when the order is ready"`
}

// Receipt is the structured result of a successful order.
type Receipt struct {
	OrderID    string   `json:"orderId"`
	Drink      string   `json:"drink"`
	Size       string   `json:"size"`
	Milk       string   `json:"milk,omitempty"`
	Extras     []string `json:"extras,omitempty"`
	Quantity   int      `json:"quantity"`
	Name       string   `json:"name,omitempty"`
	UnitPrice  float64  `json:"unitPrice"`
	Total      float64  `json:"total"`
	Currency   string   `json:"currency"`
	ETASeconds int      `json:"etaSeconds"`
	PlacedAt   string   `json:"placedAt"`
}

// Summary renders the receipt as one line of text for the model.
func (r Receipt) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Order %s: %d %s %s", r.OrderID, r.Quantity, r.Size, r.Drink)
	if r.Milk != "" {
		fmt.Fprintf(&b, " with %s milk", r.Milk)
	}
	if len(r.Extras) > 0 {
		fmt.Fprintf(&b, " + %s", strings.Join(r.Extras, " + "))
	}
	if r.Name != "" {
		fmt.Fprintf(&b, " for %s", r.Name)
	}
	fmt.Fprintf(&b, ". Total $%.2f. Ready in about %s.", r.Total, time.Duration(r.ETASeconds)*time.Second)
	return b.String()
}

// ToolOption configures OrderCoffeeTool.
type ToolOption func(*toolOptions)

type toolOptions struct {
	log   *slog.Logger
	now   func() time.Time
	newID func() string
}

// WithLogger sets the logger used for order events.
func WithLogger(l *slog.Logger) ToolOption {
	return func(o *toolOptions) {
		if l != nil {
			o.log = l
		}
	}
}

// WithClock overrides the clock used to stamp receipts.
func WithClock(now func() time.Time) ToolOption {
	return func(o *toolOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithOrderIDs overrides the order id generator.
func WithOrderIDs(fn func() string) ToolOption {
	return func(o *toolOptions) {
		if fn != nil {
			o.newID = fn
		}
	}
}

func newToolOptions(opts []ToolOption) toolOptions {
	o := toolOptions{log: slog.Default(), now: time.Now, newID: uuid.NewString}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// OrderCoffeeTool returns the order_coffee tool priced against menu. Orders
// the menu cannot fill come back as tool-level errors (isError) so the model
// can correct itself; only cancellation surfaces as a Go error.
//
// The description lists what the menu offers at the time of the call. Use
// KeepOrderToolCurrent to refresh it when the menu changes.
//
// When the caller asked for progress the tool reports three steps: received,
// priced and queued.
func OrderCoffeeTool(menu *Menu, opts ...ToolOption) mcpservice.StaticTool {
	return orderTool(menu, describeMenu(menu.Snapshot()), newToolOptions(opts))
}

func orderTool(menu *Menu, description string, o toolOptions) mcpservice.StaticTool {
	handler := func(ctx context.Context, _ sessions.Session, w mcpservice.ToolResponseWriterTyped[Receipt], r *mcpservice.ToolRequest[OrderArgs]) error {
		args := r.Args()

		if err := w.SendProgress(1, 3); err != nil {
			return err
		}

		q, err := menu.price(args)
		if err != nil {
			o.log.InfoContext(ctx, "coffeeshop.order.rejected", slog.String("drink", args.Drink), slog.String("err", err.Error()))
			w.SetError(true)
			return w.AppendText("Sorry, we can't take that order: " + err.Error())
		}

		if err := w.SendProgress(2, 3); err != nil {
			return err
		}

		receipt := Receipt{
			OrderID:    o.newID(),
			Drink:      q.drink.Name,
			Size:       q.size,
			Milk:       q.milk,
			Extras:     q.extras,
			Quantity:   q.quantity,
			Name:       strings.TrimSpace(args.Name),
			UnitPrice:  q.unitPrice,
			Total:      q.total,
			Currency:   currency,
			ETASeconds: q.etaSeconds,
			PlacedAt:   o.now().UTC().Format(time.RFC3339),
		}
		if len(receipt.Extras) == 0 {
			receipt.Extras = nil
		}
		w.SetStructured(receipt)

		if err := w.SendProgress(3, 3); err != nil {
			return err
		}

		o.log.InfoContext(ctx, "coffeeshop.order.ok",
			slog.String("order_id", receipt.OrderID),
			slog.String("drink", receipt.Drink),
			slog.Int("quantity", receipt.Quantity),
			slog.Float64("total", receipt.Total))
		return w.AppendText(receipt.Summary())
	}

	return mcpservice.NewToolWithOutput[OrderArgs, Receipt](ToolName, handler,
		mcpservice.WithToolTitle("Order coffee"),
		mcpservice.WithToolDescription(description),
	)
}

// describeMenu renders the tool description. Prices are left out, so a
// reload that only reprices the menu yields the same text.
func describeMenu(md MenuData) string {
	var b strings.Builder
	b.WriteString("Place a coffee order. Returns a receipt with the order id, total price and an estimated wait.")

	drinks := make([]string, 0, len(md.Drinks))
	for _, d := range md.Drinks {
		if d.IsAvailable() {
			drinks = append(drinks, d.Name)
		}
	}
	sizes := slices.SortedFunc(maps.Keys(md.Sizes), func(x, y string) int {
		return cmp.Or(cmp.Compare(md.Sizes[x], md.Sizes[y]), strings.Compare(x, y))
	})

	for _, line := range []struct {
		label string
		names []string
	}{
		{"Drinks", drinks},
		{"Sizes", sizes},
		{"Milks", slices.Sorted(maps.Keys(md.Milks))},
		{"Extras", slices.Sorted(maps.Keys(md.Extras))},
	} {
		if len(line.names) > 0 {
			fmt.Fprintf(&b, "\n%s: %s.", line.label, strings.Join(line.names, ", "))
		}
	}
	return b.String()
}

// KeepOrderToolCurrent re-registers the order tool in tools whenever a menu
// replacement changes what the description lists, which sends
// notifications/tools/list_changed to connected clients. Price-only changes
// need no refresh because orders are always priced against the live menu.
// It returns once subscribed and stops when ctx is done.
func KeepOrderToolCurrent(ctx context.Context, menu *Menu, tools *mcpservice.ToolsContainer, opts ...ToolOption) {
	o := newToolOptions(opts)
	changes := menu.Subscriber()
	current := describeMenu(menu.Snapshot())

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-changes:
				if !ok {
					return
				}
				next := describeMenu(menu.Snapshot())
				if next == current {
					continue
				}
				if err := tools.Put(ctx, orderTool(menu, next, o)); err != nil {
					o.log.WarnContext(ctx, "coffeeshop.order_tool.refresh.fail", slog.String("err", err.Error()))
					continue
				}
				current = next
				o.log.InfoContext(ctx, "coffeeshop.order_tool.refresh.ok")
			}
		}
	}()
}
