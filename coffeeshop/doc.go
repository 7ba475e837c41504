// Package coffeeshop implements the order_coffee tool and the menu it prices
// orders against.
//
// The menu is a YAML document of drinks, size multipliers, milk surcharges
// and extras. A built-in menu is used when no file is configured:
//
//	menu, err := coffeeshop.NewMenu(coffeeshop.DefaultMenuData())
//	if err != nil {
//		return err
//	}
//	tools, err := mcpservice.NewToolsContainer(coffeeshop.OrderCoffeeTool(menu))
//
// WatchMenu keeps a file-backed menu current as the file is edited, and
// KeepOrderToolCurrent refreshes the tool description when the offer changes.
package coffeeshop
