package openfoodfacts

import (
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/food-explorer/internal/domain/catalog"
)

// kilojoulesPerKcal converts energy_100g (kJ) when no kcal value is given.
var kilojoulesPerKcal = decimal.RequireFromString("4.184")

type searchResponse struct {
	Count    int
	HasCount bool
	Products []catalog.Product
}

func decodeSearch(data []byte) (*searchResponse, error) {
	var r searchResponse
	d := jx.DecodeBytes(data)
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "count":
			s, err := readString(d)
			if err != nil {
				return errors.Wrap(err, "count")
			}
			if n, err := strconv.Atoi(s); err == nil {
				r.Count, r.HasCount = n, true
			}
			return nil
		case "products":
			if d.Next() == jx.Null {
				return d.Null()
			}
			return d.Arr(func(d *jx.Decoder) error {
				p, err := decodeProduct(d)
				if err != nil {
					return err
				}
				r.Products = append(r.Products, p)
				return nil
			})
		default:
			return d.Skip()
		}
	}); err != nil {
		return nil, errors.Wrap(err, "decode search response")
	}
	return &r, nil
}

type lookupResponse struct {
	Status  int
	Code    string
	Product *catalog.Product
}

func decodeLookup(data []byte) (*lookupResponse, error) {
	var r lookupResponse
	d := jx.DecodeBytes(data)
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "status":
			s, err := readString(d)
			if err != nil {
				return errors.Wrap(err, "status")
			}
			r.Status, _ = strconv.Atoi(s)
			return nil
		case "code":
			s, err := readString(d)
			r.Code = s
			return err
		case "product":
			if d.Next() != jx.Object {
				return d.Skip()
			}
			p, err := decodeProduct(d)
			if err != nil {
				return err
			}
			r.Product = &p
			return nil
		default:
			return d.Skip()
		}
	}); err != nil {
		return nil, errors.Wrap(err, "decode product response")
	}
	return &r, nil
}

func decodeFacets(data []byte) ([]catalog.Facet, error) {
	var facets []catalog.Facet
	d := jx.DecodeBytes(data)
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "tags" || d.Next() != jx.Array {
			return d.Skip()
		}
		return d.Arr(func(d *jx.Decoder) error {
			var f catalog.Facet
			if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				switch string(key) {
				case "name":
					s, err := readString(d)
					f.Name = s
					return err
				case "products":
					s, err := readString(d)
					if err != nil {
						return err
					}
					f.ProductCount, _ = strconv.Atoi(s)
					return nil
				default:
					return d.Skip()
				}
			}); err != nil {
				return errors.Wrap(err, "tag")
			}
			facets = append(facets, f)
			return nil
		})
	}); err != nil {
		return nil, errors.Wrap(err, "decode categories")
	}
	return facets, nil
}

func decodeProduct(d *jx.Decoder) (catalog.Product, error) {
	var (
		p  catalog.Product
		id string
	)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "code":
			p.Code, err = readString(d)
		case "_id", "id":
			id, err = readString(d)
		case "product_name":
			p.Name, err = readString(d)
		case "image_url":
			p.ImageURL, err = readString(d)
		case "categories":
			p.Categories, err = readString(d)
		case "ingredients_text":
			p.IngredientsText, err = readString(d)
		case "nutrition_grades":
			var s string
			s, err = readString(d)
			p.NutritionGrade = catalog.ParseGrade(s)
		case "labels":
			p.Labels, err = readString(d)
		case "quantity":
			p.Quantity, err = readString(d)
		case "created_t":
			var s string
			s, err = readString(d)
			p.CreatedAt, _ = strconv.ParseInt(s, 10, 64)
		case "popularity_tags":
			p.Popularity, err = readJoined(d)
		case "nutriments":
			p.Nutrients, err = decodeNutrients(d)
		default:
			err = d.Skip()
		}
		return errors.Wrap(err, string(key))
	})
	if err != nil {
		return p, errors.Wrap(err, "decode product")
	}
	if p.Code == "" {
		p.Code = id
	}
	return p, nil
}

func decodeNutrients(d *jx.Decoder) (catalog.Nutrients, error) {
	var (
		n         catalog.Nutrients
		kj        decimal.Decimal
		haveKcal  bool
		haveJoule bool
	)
	if d.Next() != jx.Object {
		return n, d.Skip()
	}
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var (
			v   decimal.Decimal
			ok  bool
			err error
		)
		switch string(key) {
		case "energy-kcal_100g":
			v, ok, err = readDecimal(d)
			if ok {
				n.EnergyKcal, haveKcal = v, true
			}
		case "energy_100g":
			kj, haveJoule, err = readDecimal(d)
		case "fat_100g":
			n.FatGrams, _, err = readDecimal(d)
		case "carbohydrates_100g":
			n.CarbGrams, _, err = readDecimal(d)
		case "proteins_100g":
			n.ProteinGrams, _, err = readDecimal(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return n, errors.Wrap(err, "nutriments")
	}
	if !haveKcal && haveJoule {
		n.EnergyKcal = kj.DivRound(kilojoulesPerKcal, 1)
	}
	n.HasEnergy = haveKcal || haveJoule
	return n, nil
}

// readString reads a string, a number as its literal text, or null as "".
// The catalog is loose about which of those it sends for a given field.
func readString(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return n.String(), nil
	case jx.Null:
		return "", d.Null()
	default:
		return "", d.Skip()
	}
}

// readJoined reads either a string or an array of strings, joining the latter
// with commas.
func readJoined(d *jx.Decoder) (string, error) {
	if d.Next() != jx.Array {
		return readString(d)
	}
	var parts []string
	err := d.Arr(func(d *jx.Decoder) error {
		s, err := readString(d)
		if s != "" {
			parts = append(parts, s)
		}
		return err
	})
	return strings.Join(parts, ","), err
}

func readDecimal(d *jx.Decoder) (decimal.Decimal, bool, error) {
	s, err := readString(d)
	if err != nil || strings.TrimSpace(s) == "" {
		return decimal.Zero, false, err
	}
	v, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		// Free-text values like "traces" are treated as absent.
		return decimal.Zero, false, nil
	}
	return v, true, nil
}
