/*
seed.go - Demo data for local development

PURPOSE:
  Seeds a small but representative dispatch book: three drivers, four loads,
  and assignments covering every charge strategy, including one percentage
  split and one driver with a prior partial payment to exercise remaining
  balances.
*/
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/linehaul/dispatch-engine/compensation"
)

// SeedDatabase loads the demo dispatch book.
// POST /api/seed
func (h *Handler) SeedDatabase(w http.ResponseWriter, r *http.Request) {
	resp, err := h.seed(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to seed database", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) seed(ctx context.Context) (SeedResponse, error) {
	var resp SeedResponse

	// Seeding replaces whatever is there; repeated seeds must not pile up
	// prior payments.
	if err := h.Store.Reset(ctx); err != nil {
		return resp, err
	}

	drivers := []compensation.Driver{
		{ID: "drv-alvarez", Name: "M. Alvarez"},
		{ID: "drv-chen", Name: "L. Chen"},
		{ID: "drv-okafor", Name: "S. Okafor"},
	}
	for _, d := range drivers {
		if err := h.Store.SaveDriver(ctx, d); err != nil {
			return resp, err
		}
	}

	loads := []compensation.Load{
		{ID: "load-4411", Reference: "LD-4411", Rate: dec("3200")},
		{ID: "load-4412", Reference: "LD-4412", Rate: dec("1800.50")},
		{ID: "load-4413", Reference: "LD-4413", Rate: dec("2600")},
		{ID: "load-4414", Reference: "LD-4414", Rate: dec("950")},
	}
	for _, l := range loads {
		if err := h.Store.SaveLoad(ctx, l); err != nil {
			return resp, err
		}
	}

	legs := []compensation.RouteLeg{
		{ID: "leg-01", DistanceMiles: dec("412.3"), DurationHours: dec("7.5")},
		{ID: "leg-02", DistanceMiles: dec("128"), DurationHours: dec("2.25")},
		{ID: "leg-03", DistanceMiles: dec("655.8"), DurationHours: dec("11")},
		{ID: "leg-04", DistanceMiles: dec("89.6"), DurationHours: dec("1.75")},
	}
	for _, leg := range legs {
		if err := h.Store.SaveRouteLeg(ctx, leg); err != nil {
			return resp, err
		}
	}

	assignments := []compensation.Assignment{
		{
			ID: "asg-1001", DriverID: "drv-alvarez", LoadID: "load-4411",
			RouteLeg:    compensation.RouteLeg{ID: "leg-01"},
			ChargeType:  compensation.ChargePerMile,
			ChargeValue: dec("0.62"),
		},
		{
			ID: "asg-1002", DriverID: "drv-alvarez", LoadID: "load-4412",
			RouteLeg:    compensation.RouteLeg{ID: "leg-02"},
			ChargeType:  compensation.ChargeFixedPay,
			ChargeValue: dec("150"),
		},
		{
			ID: "asg-1003", DriverID: "drv-chen", LoadID: "load-4413",
			RouteLeg:    compensation.RouteLeg{ID: "leg-03"},
			ChargeType:  compensation.ChargePercentageOfLoad,
			ChargeValue: dec("24"),
		},
		{
			ID: "asg-1004", DriverID: "drv-okafor", LoadID: "load-4414",
			RouteLeg:    compensation.RouteLeg{ID: "leg-04"},
			ChargeType:  compensation.ChargePerHour,
			ChargeValue: dec("45"),
		},
	}
	for _, a := range assignments {
		if err := h.Store.SaveAssignment(ctx, a); err != nil {
			return resp, err
		}
	}

	// Prior partial payment so drv-alvarez starts with a remaining balance.
	_, err := h.Store.CreatePayment(ctx, compensation.NewPayment{
		DriverID:      "drv-alvarez",
		AssignmentIDs: []compensation.AssignmentID{"asg-1001"},
		Amount:        compensation.MoneyFromString("100.00"),
		PaymentDate:   time.Now().AddDate(0, 0, -14),
		Notes:         "advance",
	})
	if err != nil {
		return resp, err
	}

	resp.Drivers = len(drivers)
	resp.Loads = len(loads)
	resp.Assignments = len(assignments)
	return resp, nil
}

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}
