// Package testsupport provides the shared entity fixtures, column plans, and
// row builders used across the test suites. The plans mirror what the SQL/join
// compiler would hand the core for a small schema: users with a nullable
// address, a deferred company reference, composite-keyed order lines, and
// uuid-keyed documents.
package testsupport

import (
	"github.com/google/uuid"

	"github.com/goliatone/go-entity-session/hydration"
)

// User is the root fixture entity.
type User struct {
	ID      int64
	Name    string
	Email   string
	Address *Address
	Company any
}

// Address is a nested fixture entity, joined nullable under User.
type Address struct {
	ID   int64
	City string
}

// Company is the target of User's deferred reference.
type Company struct {
	ID   int64
	Name string
}

// OrderLine carries a composite primary key (OrderID, SKU).
type OrderLine struct {
	OrderID int64
	SKU     string
	Qty     int64
}

// Document is keyed by a uuid string.
type Document struct {
	ID    string
	Title string
}

// NewDocumentID returns a fresh uuid document key.
func NewDocumentID() string {
	return uuid.NewString()
}

// AddressPlan returns the compiled shape for a bare Address row: (id, city).
func AddressPlan() *hydration.ColumnPlan {
	return &hydration.ColumnPlan{
		TypeName:  "Address",
		Columns:   []string{"id", "city"},
		PKOffsets: []int{0},
		Build: func(own []any, _ []any) (any, error) {
			return &Address{ID: own[0].(int64), City: own[1].(string)}, nil
		},
		Fields: func(instance any) []any {
			a := instance.(*Address)
			return []any{a.ID, a.City}
		},
	}
}

// UserPlan returns the compiled shape for a User row with a nullable joined
// Address: (id, name, email, address.id, address.city).
func UserPlan() *hydration.ColumnPlan {
	return &hydration.ColumnPlan{
		TypeName:  "User",
		Columns:   []string{"id", "name", "email"},
		PKOffsets: []int{0},
		Relations: []hydration.RelationPlan{
			{Name: "address", Nullable: true, Plan: AddressPlan()},
		},
		Build: func(own []any, children []any) (any, error) {
			u := &User{ID: own[0].(int64), Name: own[1].(string), Email: own[2].(string)}
			if children[0] != nil {
				u.Address = children[0].(*Address)
			}
			return u, nil
		},
		Fields: func(instance any) []any {
			u := instance.(*User)
			return []any{u.ID, u.Name, u.Email}
		},
	}
}

// UserWithCompanyPlan returns the User shape with a deferred Company
// reference: (id, name, email, company_id).
func UserWithCompanyPlan() *hydration.ColumnPlan {
	return &hydration.ColumnPlan{
		TypeName:  "User",
		Columns:   []string{"id", "name", "email"},
		PKOffsets: []int{0},
		Relations: []hydration.RelationPlan{
			{Name: "company", Deferred: true, Nullable: true, TargetType: "Company"},
		},
		Build: func(own []any, children []any) (any, error) {
			return &User{
				ID:      own[0].(int64),
				Name:    own[1].(string),
				Email:   own[2].(string),
				Company: children[0],
			}, nil
		},
		Fields: func(instance any) []any {
			u := instance.(*User)
			return []any{u.ID, u.Name, u.Email}
		},
	}
}

// CompanyPlan returns the compiled shape for a bare Company row: (id, name).
func CompanyPlan() *hydration.ColumnPlan {
	return &hydration.ColumnPlan{
		TypeName:  "Company",
		Columns:   []string{"id", "name"},
		PKOffsets: []int{0},
		Build: func(own []any, _ []any) (any, error) {
			return &Company{ID: own[0].(int64), Name: own[1].(string)}, nil
		},
		Fields: func(instance any) []any {
			c := instance.(*Company)
			return []any{c.ID, c.Name}
		},
	}
}

// OrderLinePlan returns the composite-key shape: (order_id, sku, qty).
func OrderLinePlan() *hydration.ColumnPlan {
	return &hydration.ColumnPlan{
		TypeName:  "OrderLine",
		Columns:   []string{"order_id", "sku", "qty"},
		PKOffsets: []int{0, 1},
		Build: func(own []any, _ []any) (any, error) {
			return &OrderLine{OrderID: own[0].(int64), SKU: own[1].(string), Qty: own[2].(int64)}, nil
		},
		Fields: func(instance any) []any {
			l := instance.(*OrderLine)
			return []any{l.OrderID, l.SKU, l.Qty}
		},
	}
}

// DocumentPlan returns the uuid-keyed shape: (id, title).
func DocumentPlan() *hydration.ColumnPlan {
	return &hydration.ColumnPlan{
		TypeName:  "Document",
		Columns:   []string{"id", "title"},
		PKOffsets: []int{0},
		Build: func(own []any, _ []any) (any, error) {
			return &Document{ID: own[0].(string), Title: own[1].(string)}, nil
		},
		Fields: func(instance any) []any {
			d := instance.(*Document)
			return []any{d.ID, d.Title}
		},
	}
}

// UserRow builds a flat row for UserPlan. Pass nil for addrID and city to
// simulate an absent joined address.
func UserRow(id int64, name, email string, addrID any, city any) hydration.Row {
	return hydration.Row{id, name, email, addrID, city}
}

// UserWithCompanyRow builds a flat row for UserWithCompanyPlan.
func UserWithCompanyRow(id int64, name, email string, companyID any) hydration.Row {
	return hydration.Row{id, name, email, companyID}
}

// OrderLineRow builds a flat row for OrderLinePlan.
func OrderLineRow(orderID int64, sku string, qty int64) hydration.Row {
	return hydration.Row{orderID, sku, qty}
}
