package store

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"nutriflow/pkg/domain"
)

// shoppingItemJSON is the canonical on-disk encoding of one list entry.
type shoppingItemJSON struct {
	ID      string `json:"id,omitempty"`
	Text    string `json:"text"`
	Checked bool   `json:"checked"`
}

// DecodeShoppingList normalizes both stored encodings of the shopping list
// into the canonical item shape: the legacy plain string array
// (["Milk","Eggs"]) and the object array ([{"id","text","checked"}]).
// Items missing an id get a synthetic UUID. Original order is preserved.
func DecodeShoppingList(raw []byte) ([]domain.ShoppingItem, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode shopping list: %w", err)
	}
	items := make([]domain.ShoppingItem, 0, len(entries))
	for i, entry := range entries {
		var text string
		if err := json.Unmarshal(entry, &text); err == nil {
			items = append(items, domain.ShoppingItem{
				ID:   uuid.NewString(),
				Text: text,
			})
			continue
		}
		var obj shoppingItemJSON
		if err := json.Unmarshal(entry, &obj); err != nil {
			return nil, fmt.Errorf("decode shopping list entry %d: %w", i, err)
		}
		id := obj.ID
		if id == "" {
			id = uuid.NewString()
		}
		items = append(items, domain.ShoppingItem{
			ID:      id,
			Text:    obj.Text,
			Checked: obj.Checked,
		})
	}
	return items, nil
}

// EncodeShoppingList writes the canonical object-array encoding. Legacy string
// arrays are never written back.
func EncodeShoppingList(items []domain.ShoppingItem) ([]byte, error) {
	out := make([]shoppingItemJSON, 0, len(items))
	for _, item := range items {
		out = append(out, shoppingItemJSON{
			ID:      item.ID,
			Text:    item.Text,
			Checked: item.Checked,
		})
	}
	return json.Marshal(out)
}
