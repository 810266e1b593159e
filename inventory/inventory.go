// Package inventory provides flat-file lookup of buyer inventory and seller
// pricing data. Both lookups degrade to documented default records when the
// data file or the SKU is missing, so a decision policy always has a record
// to work from.
package inventory

import (
	"encoding/csv"
	"os"
	"strconv"
)

// BuyerRecord is one row of the buyer's inventory book.
type BuyerRecord struct {
	SKU              string `json:"sku"`
	Stock            int    `json:"stock"`
	ReorderThreshold int    `json:"reorder_threshold"`
	ReorderAmount    int    `json:"reorder_amount"`
}

// SellerRecord is one row of the seller's price list.
type SellerRecord struct {
	SKU            string  `json:"sku"`
	Stock          int     `json:"stock"`
	UnitPrice      float64 `json:"unit_price"`
	MaxDiscountPct float64 `json:"max_discount_pct"`
}

// Floor is the seller's minimum acceptable unit price for this record.
func (r SellerRecord) Floor() float64 {
	return r.UnitPrice * (1 - r.MaxDiscountPct)
}

// BuyerBook reads buyer inventory rows from a CSV file with a header of
// sku,stock,reorder_threshold,reorder_amount.
type BuyerBook struct {
	path string
}

// NewBuyerBook creates a buyer inventory book backed by the given CSV path.
func NewBuyerBook(path string) *BuyerBook {
	return &BuyerBook{path: path}
}

// Lookup returns the record for sku. A missing file or an absent SKU yields
// the default record, so the policy always works from usable numbers.
func (b *BuyerBook) Lookup(sku string) BuyerRecord {
	rows, err := readCSV(b.path)
	if err == nil {
		for _, row := range rows {
			if row["sku"] == sku {
				return BuyerRecord{
					SKU:              row["sku"],
					Stock:            atoi(row["stock"]),
					ReorderThreshold: atoi(row["reorder_threshold"]),
					ReorderAmount:    atoi(row["reorder_amount"]),
				}
			}
		}
	}
	return BuyerRecord{SKU: sku, Stock: 5, ReorderThreshold: 10, ReorderAmount: 20}
}

// SellerBook reads seller pricing rows from a CSV file with a header of
// sku,stock,unit_price,max_discount_pct.
type SellerBook struct {
	path string
}

// NewSellerBook creates a seller price list backed by the given CSV path.
func NewSellerBook(path string) *SellerBook {
	return &SellerBook{path: path}
}

// Lookup returns the record for sku. A missing file or an absent SKU yields
// the default record. A zeroed record would zero the derived floor and
// silently disable the floor clamp, so absence must never produce one.
func (b *SellerBook) Lookup(sku string) SellerRecord {
	rows, err := readCSV(b.path)
	if err == nil {
		for _, row := range rows {
			if row["sku"] == sku {
				return SellerRecord{
					SKU:            row["sku"],
					Stock:          atoi(row["stock"]),
					UnitPrice:      atof(row["unit_price"]),
					MaxDiscountPct: atof(row["max_discount_pct"]),
				}
			}
		}
	}
	return SellerRecord{SKU: sku, Stock: 100, UnitPrice: 1999.0, MaxDiscountPct: 0.10}
}

// readCSV reads a header-mapped CSV file into one map per row.
func readCSV(path string) ([]map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 1 {
		return nil, nil
	}

	header := records[0]
	rows := make([]map[string]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func atoi(s string) int {
	v, _ := strconv.Atoi(s)
	return v
}

func atof(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
