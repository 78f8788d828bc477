package models

// OrderKey is the meta key under which the custom display order is stored.
const OrderKey = "customOrder"

// OrderRecord is the single ordered id sequence kept per scope.
type OrderRecord struct {
	Key   string   `json:"key"`
	Value []string `json:"value"`
}

// NewOrderRecord wraps ids in the stored order shape.
func NewOrderRecord(ids []string) OrderRecord {
	return OrderRecord{Key: OrderKey, Value: ids}
}

// IDs returns the ids of items in sequence.
func IDs(items []Item) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return ids
}
