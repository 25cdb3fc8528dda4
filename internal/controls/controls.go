// Package controls describes the full-screen expanded controls screen that
// bridge clients render on top of the stock cast controller UI.
package controls

const (
	// MenuCastExpandedController is the menu inflated into the screen's options.
	MenuCastExpandedController = "cast_expanded_controller_menu"
	// MediaRouteMenuItem is the menu item id wired to the route (cast) button.
	MediaRouteMenuItem = "media_route_menu_item"
)

// MenuItem is one entry of the options menu.
type MenuItem struct {
	ID           string `json:"id"`
	ActionView   string `json:"actionView,omitempty"`
	ShowAsAction string `json:"showAsAction,omitempty"`
}

// Menu is an inflated options menu.
type Menu struct {
	Resource string     `json:"resource"`
	Items    []MenuItem `json:"items"`
}

// ExpandedControls is the screen configuration.
type ExpandedControls struct {
	Fullscreen bool   `json:"fullscreen"`
	Menus      []Menu `json:"menus"`
}

// Default returns the expanded controls configuration: fullscreen, with the
// cast menu inflated and its route item bound to the media route button.
func Default() ExpandedControls {
	ec := ExpandedControls{}
	ec.SetFullscreen()
	ec.InflateMenu(MenuCastExpandedController, MenuItem{ID: MediaRouteMenuItem, ShowAsAction: "always"})
	ec.SetUpMediaRouteButton(MediaRouteMenuItem)
	return ec
}

// SetFullscreen hides system bars while the screen is shown.
func (ec *ExpandedControls) SetFullscreen() {
	ec.Fullscreen = true
}

// InflateMenu appends a menu built from resource and items.
func (ec *ExpandedControls) InflateMenu(resource string, items ...MenuItem) {
	ec.Menus = append(ec.Menus, Menu{Resource: resource, Items: append([]MenuItem(nil), items...)})
}

// SetUpMediaRouteButton binds itemID, in every inflated menu, to the media
// route button. It reports whether the item was found.
func (ec *ExpandedControls) SetUpMediaRouteButton(itemID string) bool {
	found := false
	for i := range ec.Menus {
		for j := range ec.Menus[i].Items {
			if ec.Menus[i].Items[j].ID == itemID {
				ec.Menus[i].Items[j].ActionView = "MediaRouteButton"
				found = true
			}
		}
	}
	return found
}
