package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var (
	centreControl      = Locator{CSS: "mat-select[formcontrolname='centerCode']"}
	centreOption       = Locator{CSS: "mat-option[id='INME']"}
	categoryControl    = Locator{CSS: "mat-select[formcontrolname='selectedSubvisaCategory']"}
	categoryOption     = Locator{CSS: "mat-option", Text: "Passport Services"}
	subcategoryControl = Locator{CSS: "mat-select[formcontrolname='visaCategoryCode']"}
	subcategoryOption  = Locator{CSS: "mat-option", Text: "Passport Application"}
)

func testFields() []DropdownField {
	mk := func(id StageID, control, option Locator, expect string) DropdownField {
		return DropdownField{
			ID:       id,
			Control:  control,
			Option:   option,
			Expect:   expect,
			Policy:   FixedPolicy(2, 0),
			Timeout:  testTimeout,
			Interval: testInterval,
		}
	}
	return []DropdownField{
		mk(StageSelectCentre, centreControl, centreOption, "Melbourne"),
		mk(StageSelectCategory, categoryControl, categoryOption, "Passport Services"),
		mk(StageSelectSubcategory, subcategoryControl, subcategoryOption, "Passport Application"),
	}
}

// wireDropdown makes opening control reveal option and choosing option
// write label into the control and reveal next, if any.
func wireDropdown(d *fakeDriver, control, option Locator, label string, next *Locator) {
	d.show(control, "Select")
	d.onClick[control] = func(d *fakeDriver) { d.show(option, label) }
	d.onClick[option] = func(d *fakeDriver) {
		d.hide(option)
		d.show(control, label)
		if next != nil {
			d.show(*next, "Select")
		}
	}
}

func newTestCascade(t *testing.T, d *fakeDriver) *DropdownCascadeSelector {
	return NewDropdownCascadeSelector(d, newTestExecutor(t, d, ""), zaptest.NewLogger(t))
}

func TestSelectCascadeInOrder(t *testing.T) {
	d := newFakeDriver()
	wireDropdown(d, centreControl, centreOption, "Melbourne", &categoryControl)
	wireDropdown(d, categoryControl, categoryOption, "Passport Services", &subcategoryControl)
	d.hide(categoryControl)
	wireDropdown(d, subcategoryControl, subcategoryOption, "Passport Application", nil)
	d.hide(subcategoryControl)

	ok, res := newTestCascade(t, d).SelectCascade(context.Background(), testFields())

	require.True(t, ok, res.Err)
	assert.Equal(t, StageSelectSubcategory, res.Stage)
	for _, loc := range []Locator{centreControl, centreOption, categoryControl, categoryOption, subcategoryControl, subcategoryOption} {
		assert.Equal(t, 1, d.clickCount(loc), loc.String())
	}
}

func TestSelectCascadeStopsAtFirstFailure(t *testing.T) {
	d := newFakeDriver()
	wireDropdown(d, centreControl, centreOption, "Melbourne", &categoryControl)
	// Category opens but its option never shows up.
	d.onClick[categoryControl] = func(*fakeDriver) {}
	wireDropdown(d, subcategoryControl, subcategoryOption, "Passport Application", nil)

	ok, res := newTestCascade(t, d).SelectCascade(context.Background(), testFields())

	assert.False(t, ok)
	assert.Equal(t, StageSelectCategory, res.Stage)
	assert.ErrorIs(t, res.Err, ErrExhausted)
	assert.ErrorIs(t, res.Err, ErrElementNotFound)
	assert.Len(t, res.Attempts, 2)

	assert.Equal(t, 1, d.clickCount(centreOption))
	assert.Equal(t, 2, d.clickCount(categoryControl), "one open per attempt")
	assert.Zero(t, d.clickCount(subcategoryControl))
	assert.Zero(t, d.clickCount(subcategoryOption))
}

func TestSelectCascadeAppliedWithoutExpect(t *testing.T) {
	d := newFakeDriver()
	wireDropdown(d, centreControl, centreOption, "Melbourne", nil)

	field := testFields()[0]
	field.Expect = ""

	ok, res := newTestCascade(t, d).SelectCascade(context.Background(), []DropdownField{field})
	assert.True(t, ok, res.Err)
}

func TestSelectCascadeRetriesWhenSelectionDoesNotStick(t *testing.T) {
	d := newFakeDriver()
	d.show(centreControl, "Select")
	d.onClick[centreControl] = func(d *fakeDriver) { d.show(centreOption, "Melbourne") }
	picks := 0
	d.onClick[centreOption] = func(d *fakeDriver) {
		picks++
		if picks == 2 {
			d.show(centreControl, "Melbourne")
		}
	}

	ok, res := newTestCascade(t, d).SelectCascade(context.Background(), testFields()[:1])

	require.True(t, ok, res.Err)
	assert.Equal(t, 2, picks)
	require.Len(t, res.Attempts, 2)
	assert.Equal(t, RetryableFailure, res.Attempts[0].Outcome)
}
