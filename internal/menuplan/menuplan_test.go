package menuplan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	t.Run("NewAndLegacyForms", func(t *testing.T) {
		plan := Decode("[2025-01-01,10,1][2025-01-01,11,2][2025-01-02,12]")

		assert.Equal(t, Plan{
			"2025-01-01": {{ItemID: 10, MealSlot: Breakfast}, {ItemID: 11, MealSlot: Lunch}},
			"2025-01-02": {{ItemID: 12, MealSlot: Dinner}},
		}, plan)
	})

	t.Run("EmptyText", func(t *testing.T) {
		assert.Empty(t, Decode(""))
	})

	t.Run("ToleratesWhitespaceAndNoise", func(t *testing.T) {
		plan := Decode("menu: [ 2025-10-20 , 35 , 3 ],\n junk [2025-10-21,8,1] trailing")

		require.Len(t, plan, 2)
		assert.Equal(t, []Entry{{ItemID: 35, MealSlot: Dinner}}, plan["2025-10-20"])
		assert.Equal(t, []Entry{{ItemID: 8, MealSlot: Breakfast}}, plan["2025-10-21"])
	})

	t.Run("SkipsCorruptTokens", func(t *testing.T) {
		plan := Decode("[2025-13-01,5,1],[2025-02-29,6,1],[2025-01-03,x,1],[2025-01-03,-4,2],[2025-01-03,7,9],[2025-01-03,8,2]")

		assert.Equal(t, Plan{"2025-01-03": {{ItemID: 8, MealSlot: Lunch}}}, plan)
	})

	t.Run("SkipsEmptyMealSlotField", func(t *testing.T) {
		assert.Empty(t, Decode("[2025-01-01,10,]"))
		assert.Empty(t, Decode("[2025-01-01,10, ]"))
	})

	t.Run("KeepsInsertionOrder", func(t *testing.T) {
		plan := Decode("[2025-01-01,3,3],[2025-01-01,1,1],[2025-01-01,2,2]")

		assert.Equal(t, []Entry{
			{ItemID: 3, MealSlot: Dinner},
			{ItemID: 1, MealSlot: Breakfast},
			{ItemID: 2, MealSlot: Lunch},
		}, plan["2025-01-01"])
		assert.Equal(t, []Entry{
			{ItemID: 1, MealSlot: Breakfast},
			{ItemID: 2, MealSlot: Lunch},
			{ItemID: 3, MealSlot: Dinner},
		}, plan.ByMealOrder("2025-01-01"))
	})

	t.Run("FirstTokenWinsForSameSlot", func(t *testing.T) {
		plan := Decode("[2025-01-01,3,2],[2025-01-01,9,2]")

		entry, ok := plan.Lookup("2025-01-01", Lunch)
		require.True(t, ok)
		assert.Equal(t, 3, entry.ItemID)
		assert.Len(t, plan["2025-01-01"], 1)
	})
}

func TestAppend(t *testing.T) {
	text := Append("", "2025-10-14", 35, Lunch)
	assert.Equal(t, "[2025-10-14,35,2]", text)

	text = Append(text, "2025-10-14", 8, Dinner)
	assert.Equal(t, "[2025-10-14,35,2],[2025-10-14,8,3]", text)

	legacy := "[2025-10-13,4]"
	appended := Append(legacy, "2025-10-13", 4, Dinner)
	assert.Equal(t, "[2025-10-13,4],[2025-10-13,4,3]", appended, "existing tokens are never rewritten")
}

func TestAppendRoundTrip(t *testing.T) {
	start := "[2025-01-01,10,1] notes [2025-01-02,12]"
	plan := Decode(Append(start, "2025-01-02", 77, Breakfast))

	entry, ok := plan.Lookup("2025-01-02", Breakfast)
	require.True(t, ok)
	assert.Equal(t, 77, entry.ItemID)
	assert.True(t, plan.Has("2025-01-02", Dinner))
	assert.True(t, plan.Has("2025-01-01", Breakfast))
}

func TestPlanDates(t *testing.T) {
	plan := Decode("[2025-03-02,1,1],[2024-12-31,2,1],[2025-01-15,3,1]")
	assert.Equal(t, []string{"2024-12-31", "2025-01-15", "2025-03-02"}, plan.Dates())
}

func TestPlanAdd(t *testing.T) {
	plan := Plan{}
	assert.True(t, plan.Add("2025-01-01", Entry{ItemID: 1, MealSlot: Lunch}))
	assert.False(t, plan.Add("2025-01-01", Entry{ItemID: 2, MealSlot: Lunch}))
	assert.Equal(t, []Entry{{ItemID: 1, MealSlot: Lunch}}, plan["2025-01-01"])
}

func TestMealSlotValid(t *testing.T) {
	assert.False(t, MealSlot(0).Valid())
	assert.True(t, Breakfast.Valid())
	assert.True(t, Dinner.Valid())
	assert.False(t, MealSlot(4).Valid())
	assert.Equal(t, "lunch", Lunch.String())
}

func TestParseMealSlots(t *testing.T) {
	slots, err := ParseMealSlots("breakfast, Dinner,2")
	require.NoError(t, err)
	assert.Equal(t, []MealSlot{Breakfast, Dinner, Lunch}, slots)

	slots, err = ParseMealSlots("b,l,d,7")
	require.NoError(t, err)
	assert.Equal(t, []MealSlot{Breakfast, Lunch, Dinner, 7}, slots)

	_, err = ParseMealSlots("brunch")
	assert.Error(t, err)

	_, err = ParseMealSlots(" , ")
	assert.Error(t, err)
}
