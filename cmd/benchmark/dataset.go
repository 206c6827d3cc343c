package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// LabeledListing is one row of the benchmark dataset.
type LabeledListing struct {
	ID         string
	OwnerID    string
	OwnerTrust *float64
	Price      float64
	Bedrooms   float64
	Bathrooms  float64
	FloorArea  float64
	Location   string
	Amenities  []string
	YearBuilt  int
	IsFraud    bool
}

// requiredColumns must be present in the CSV header, in any order.
var requiredColumns = []string{"id", "owner_id", "price", "floor_area", "location", "is_fraud"}

func readListingCSV(path string, limit int, fraudOnly bool) ([]LabeledListing, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return parseListings(file, limit, fraudOnly)
}

// parseListings reads labeled listings. Rows that fail to parse are skipped;
// amenities are separated by semicolons.
func parseListings(r io.Reader, limit int, fraudOnly bool) ([]LabeledListing, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, col := range requiredColumns {
		if _, ok := colIndex[col]; !ok {
			return nil, fmt.Errorf("missing required column %q", col)
		}
	}

	field := func(record []string, name string) string {
		i, ok := colIndex[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}
	number := func(record []string, name string) float64 {
		v, _ := strconv.ParseFloat(field(record, name), 64)
		return v
	}

	var listings []LabeledListing
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}

		isFraud := parseBool(field(record, "is_fraud"))
		if fraudOnly && !isFraud {
			continue
		}

		price, err := strconv.ParseFloat(field(record, "price"), 64)
		if err != nil {
			continue
		}

		l := LabeledListing{
			ID:        field(record, "id"),
			OwnerID:   field(record, "owner_id"),
			Price:     price,
			Bedrooms:  number(record, "bedrooms"),
			Bathrooms: number(record, "bathrooms"),
			FloorArea: number(record, "floor_area"),
			Location:  field(record, "location"),
			IsFraud:   isFraud,
		}
		l.YearBuilt, _ = strconv.Atoi(field(record, "year_built"))
		if raw := field(record, "owner_trust"); raw != "" {
			if trust, err := strconv.ParseFloat(raw, 64); err == nil {
				l.OwnerTrust = &trust
			}
		}
		for _, a := range strings.Split(field(record, "amenities"), ";") {
			if a = strings.TrimSpace(a); a != "" {
				l.Amenities = append(l.Amenities, a)
			}
		}

		listings = append(listings, l)
		if limit > 0 && len(listings) >= limit {
			break
		}
	}

	return listings, nil
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}
