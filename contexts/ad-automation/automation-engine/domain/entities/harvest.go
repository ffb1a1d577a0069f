package entities

import "fmt"

type HarvestStage string

const (
	HarvestPending         HarvestStage = "pending"
	HarvestCampaignCreated HarvestStage = "campaign_created"
	HarvestAdGroupCreated  HarvestStage = "ad_group_created"
	HarvestSKUResolved     HarvestStage = "sku_resolved"
	HarvestAdCreated       HarvestStage = "ad_created"
	HarvestPlaced          HarvestStage = "placed"
	HarvestTargetAdded     HarvestStage = "target_added"
	HarvestSourceNegated   HarvestStage = "source_negated"
	// HarvestFailedPartial is terminal. Objects created before the failure
	// are left in place.
	HarvestFailedPartial HarvestStage = "failed_partial"
)

var harvestNext = map[HarvestStage][]HarvestStage{
	HarvestPending:         {HarvestCampaignCreated, HarvestPlaced},
	HarvestCampaignCreated: {HarvestAdGroupCreated},
	HarvestAdGroupCreated:  {HarvestSKUResolved},
	HarvestSKUResolved:     {HarvestAdCreated},
	HarvestAdCreated:       {HarvestPlaced},
	HarvestPlaced:          {HarvestTargetAdded, HarvestSourceNegated},
	HarvestTargetAdded:     {HarvestSourceNegated},
}

// HarvestFlow tracks how far one search term's promotion progressed.
type HarvestFlow struct {
	Stage      HarvestStage
	Reached    HarvestStage
	CampaignID string
	AdGroupID  string
	SKU        string
	AdID       string
	TargetID   string
	Err        error
}

func NewHarvestFlow() HarvestFlow {
	return HarvestFlow{Stage: HarvestPending, Reached: HarvestPending}
}

// Advance moves to the next stage. Illegal transitions return an error and
// leave the flow unchanged.
func (f *HarvestFlow) Advance(to HarvestStage) error {
	for _, allowed := range harvestNext[f.Stage] {
		if allowed == to {
			f.Stage = to
			f.Reached = to
			return nil
		}
	}
	return fmt.Errorf("harvest transition %s -> %s is not allowed", f.Stage, to)
}

// Step advances to the given stage, failing the flow when the transition is
// illegal. It reports whether the flow is still live.
func (f *HarvestFlow) Step(to HarvestStage) bool {
	if err := f.Advance(to); err != nil {
		f.Fail(err)
		return false
	}
	return true
}

// Fail moves the flow to the terminal partial-failure state, remembering the
// last stage reached.
func (f *HarvestFlow) Fail(err error) {
	f.Reached = f.Stage
	f.Stage = HarvestFailedPartial
	f.Err = err
}

func (f HarvestFlow) Failed() bool { return f.Stage == HarvestFailedPartial }

func (f HarvestFlow) Placed() bool {
	switch f.Stage {
	case HarvestPlaced, HarvestTargetAdded, HarvestSourceNegated:
		return true
	}
	return false
}
