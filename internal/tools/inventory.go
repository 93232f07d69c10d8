package tools

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"shopops/internal/docstore"
	"shopops/internal/textnorm"
	"shopops/internal/types"
)

// InventoryToolName is the name the model calls the inventory search by.
const InventoryToolName = "buscar_inventario"

const (
	inventorySnapshot = 200
	inventoryResults  = 5
	statusSold        = "sold"
)

// InventoryMatch is one search hit as returned to the model.
type InventoryMatch struct {
	Title string            `json:"title"`
	Specs map[string]string `json:"specs"`
	Price float64           `json:"price"`
}

// InventoryResult is the function response of the inventory search.
type InventoryResult struct {
	Results []InventoryMatch `json:"results"`
	Count   int              `json:"count"`
}

// NewInventoryTool builds the inventory search over the store.
func NewInventoryTool(store docstore.Lister) *Tool {
	return &Tool{
		Name:        InventoryToolName,
		Description: "Busca equipos disponibles en el inventario del taller por texto libre y/o precio maximo.",
		Schema: ToolSchema{
			Properties: map[string]Property{
				"query":    {Type: "string", Description: "Texto a buscar en titulo, especificaciones o numero de serie"},
				"maxPrice": {Type: "number", Description: "Precio maximo"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (any, error) {
			query, _ := args["query"].(string)
			maxPrice, hasMax := numberArg(args["maxPrice"])
			return SearchInventory(ctx, store, query, maxPrice, hasMax)
		},
	}
}

// SearchInventory reads a bounded snapshot of unsold stock and returns up to
// five items whose searchable text contains query and priced at or under
// maxPrice. Matching ignores case, accents and repeated spaces.
func SearchInventory(ctx context.Context, store docstore.Lister, query string, maxPrice float64, hasMax bool) (*InventoryResult, error) {
	docs, err := store.List(ctx, docstore.Query{
		Collection: types.CollectionInventory,
		Where:      []docstore.Filter{docstore.Ne("status", statusSold)},
		Limit:      inventorySnapshot,
	})
	if err != nil {
		return nil, fmt.Errorf("inventory snapshot: %w", err)
	}

	res := &InventoryResult{Results: []InventoryMatch{}}
	for _, doc := range docs {
		item := inventoryItem(doc)
		if hasMax && item.Price > maxPrice {
			continue
		}
		if strings.TrimSpace(query) != "" && !textnorm.Contains(searchable(item), query) {
			continue
		}
		res.Results = append(res.Results, InventoryMatch{Title: item.Title, Specs: item.Specs, Price: item.Price})
		if len(res.Results) == inventoryResults {
			break
		}
	}
	res.Count = len(res.Results)
	return res, nil
}

func searchable(item types.InventoryItem) string {
	keys := make([]string, 0, len(item.Specs))
	for k := range item.Specs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(item.Title)
	for _, k := range keys {
		b.WriteString(" ")
		b.WriteString(k)
		b.WriteString(" ")
		b.WriteString(item.Specs[k])
	}
	b.WriteString(" ")
	b.WriteString(item.Serial)
	return b.String()
}

// inventoryItem decodes loosely: stock records are typed by hand in the admin
// UI, so prices may be strings and product specs may hold numbers.
func inventoryItem(doc docstore.Document) types.InventoryItem {
	item := types.InventoryItem{ID: doc.ID, Specs: map[string]string{}}
	item.Title, _ = doc.Data["title"].(string)
	item.Serial, _ = doc.Data["serial"].(string)
	item.Status, _ = doc.Data["status"].(string)
	if p, ok := numberArg(doc.Data["price"]); ok {
		item.Price = p
	}
	if specs, ok := doc.Data["specs"].(map[string]any); ok {
		for k, v := range specs {
			if v == nil {
				continue
			}
			item.Specs[k] = fmt.Sprint(v)
		}
	}
	return item
}

// numberArg accepts JSON numbers and numeric strings such as "$1,250.50".
func numberArg(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		s := strings.TrimSpace(n)
		s = strings.TrimPrefix(s, "$")
		s = strings.ReplaceAll(s, ",", "")
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
