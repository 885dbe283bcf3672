package mapping

import (
	"errors"
	"testing"
)

func testRules() []FieldMapping {
	return []FieldMapping{
		{DealerID: "d1", DMSField: "Vehicle_VIN", TargetField: FieldVIN, Transform: TransformUpper, Active: true},
		{DealerID: "d1", DMSField: "Mfr", TargetField: FieldMake, Transform: TransformIdentity, Active: true},
		{DealerID: "d1", DMSField: "ModelName", TargetField: FieldModel, Transform: TransformIdentity, Active: true},
		{DealerID: "d1", DMSField: "ModelYear", TargetField: FieldYear, Transform: TransformParseInt, Active: true},
		{DealerID: "d1", DMSField: "AskingPrice", TargetField: FieldPrice, Transform: TransformParseInt, Active: true},
		{DealerID: "d1", DMSField: "Odometer", TargetField: FieldMileage, Transform: TransformParseInt, Active: true},
		{DealerID: "d1", DMSField: "PhotoURLs", TargetField: FieldImages, Transform: TransformSplitPipe, Active: true},
	}
}

func TestResolveHappyPath(t *testing.T) {
	r := NewResolver(testRules(), 0)
	rec, err := r.Resolve(map[string]string{
		"Vehicle_VIN":  "1fake00000000001",
		"Mfr":          "Ford",
		"ModelName":    "F-150",
		"ModelYear":    "2021",
		"AskingPrice":  "$21,500",
		"Odometer":     "41000",
		"PhotoURLs":    "a.jpg|b.jpg",
		"DealerNotes":  "unmapped field, must be ignored",
		"StockedSince": "2024-01-01",
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if rec.VIN != "1FAKE00000000001" {
		t.Fatalf("expected normalized vin, got %q", rec.VIN)
	}
	if rec.Price != 21500 || rec.Mileage != 41000 || rec.Year != 2021 {
		t.Fatalf("unexpected numerics: %+v", rec)
	}
	if len(rec.Images) != 2 || rec.Images[0] != "a.jpg" {
		t.Fatalf("unexpected images: %v", rec.Images)
	}
}

func TestResolveAppliesMarkupBeforeDiff(t *testing.T) {
	r := NewResolver(testRules(), 500)
	rec, err := r.Resolve(map[string]string{
		"Vehicle_VIN": "VIN1",
		"Mfr":         "Honda",
		"ModelName":   "Civic",
		"ModelYear":   "2022",
		"AskingPrice": "20000",
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if rec.Price != 20500 {
		t.Fatalf("expected markup applied, got %d", rec.Price)
	}
}

func TestResolveMissingRequiredField(t *testing.T) {
	r := NewResolver(testRules(), 0)
	_, err := r.Resolve(map[string]string{
		"Vehicle_VIN": "VIN1",
		"Mfr":         "Honda",
		"ModelName":   "Civic",
		"ModelYear":   "2022",
		// AskingPrice 缺失
	})
	var me *MappingError
	if !errors.As(err, &me) {
		t.Fatalf("expected MappingError, got %v", err)
	}
	if me.Field != FieldPrice {
		t.Fatalf("expected price field error, got %s", me.Field)
	}
}

func TestResolveRejectsNonPositivePrice(t *testing.T) {
	r := NewResolver(testRules(), 0)
	_, err := r.Resolve(map[string]string{
		"Vehicle_VIN": "VIN1",
		"Mfr":         "Honda",
		"ModelName":   "Civic",
		"ModelYear":   "2022",
		"AskingPrice": "0",
	})
	var me *MappingError
	if !errors.As(err, &me) {
		t.Fatalf("expected MappingError for zero price, got %v", err)
	}
}

func TestResolveLastRegisteredRuleWins(t *testing.T) {
	rules := testRules()
	// 同一 dms_field 配了两条规则：后注册的生效
	rules = append(rules, FieldMapping{
		DealerID: "d1", DMSField: "AskingPrice", TargetField: FieldPrice, Transform: TransformParseFloat, Active: true,
	})
	r := NewResolver(rules, 0)
	rec, err := r.Resolve(map[string]string{
		"Vehicle_VIN": "VIN1",
		"Mfr":         "Honda",
		"ModelName":   "Civic",
		"ModelYear":   "2022",
		"AskingPrice": "19999.60",
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if rec.Price != 20000 {
		t.Fatalf("expected rounded float price via last rule, got %d", rec.Price)
	}
}

func TestResolveSkipsInactiveRules(t *testing.T) {
	rules := testRules()
	for i := range rules {
		if rules[i].DMSField == "Odometer" {
			rules[i].Active = false
		}
	}
	r := NewResolver(rules, 0)
	rec, err := r.Resolve(map[string]string{
		"Vehicle_VIN": "VIN1",
		"Mfr":         "Honda",
		"ModelName":   "Civic",
		"ModelYear":   "2022",
		"AskingPrice": "18000",
		"Odometer":    "50000",
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if rec.Mileage != 0 {
		t.Fatalf("inactive rule must not apply, got mileage %d", rec.Mileage)
	}
}
