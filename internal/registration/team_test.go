package registration

import (
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Team", func() {
	Describe("validateTeam", func() {
		var team *Team

		BeforeEach(func() {
			team = &Team{TeamName: "Team Rocket", Members: validMembers()}
		})

		It("should accept a valid team", func() {
			Expect(validateTeam(team)).To(Succeed())
		})

		It("should accept four members", func() {
			team.Members = append(team.Members,
				Member{Name: "C", Email: "c@example.com", Phone: "9000000003", Meal: MealVeg},
				Member{Name: "D", Email: "d@example.com", Phone: "9000000004", Meal: MealVeg},
			)
			Expect(validateTeam(team)).To(Succeed())
		})

		DescribeTable("rejects",
			func(mutate func(*Team), message string) {
				mutate(team)
				err := validateTeam(team)
				Expect(err).To(MatchError(ErrInvalidTeam))
				Expect(err.Error()).To(ContainSubstring(message))
			},
			Entry("an empty team name", func(t *Team) { t.TeamName = "" }, "team name is required"),
			Entry("a long team name", func(t *Team) { t.TeamName = strings.Repeat("x", 65) }, "at most 64"),
			Entry("a single member", func(t *Team) { t.Members = t.Members[:1] }, "2 to 4 members, got 1"),
			Entry("five members", func(t *Team) {
				for i := 0; i < 3; i++ {
					t.Members = append(t.Members, t.Members[0])
				}
			}, "got 5"),
			Entry("a nameless member", func(t *Team) { t.Members[1].Name = "" }, "member 2: name is required"),
			Entry("a bad email", func(t *Team) { t.Members[0].Email = "not-an-email" }, "invalid email"),
			Entry("a repeated email", func(t *Team) { t.Members[1].Email = t.Members[0].Email }, "used twice"),
			Entry("a short phone", func(t *Team) { t.Members[0].Phone = "12345" }, "invalid phone"),
			Entry("a lettered phone", func(t *Team) { t.Members[0].Phone = "98765abcde" }, "invalid phone"),
			Entry("an unknown meal", func(t *Team) { t.Members[0].Meal = "Vegan" }, "meal preference"),
		)
	})

	Describe("normalizeTeam", func() {
		It("should trim and canonicalize member fields", func() {
			team := &Team{
				TeamName: "  Team Rocket  ",
				Members: []Member{
					{Name: " Asha ", Email: " Asha@Example.COM ", Phone: "98765 43210", Meal: " Veg "},
					{Name: "Vikram", Email: "vikram@example.com", Phone: "+91-98765-43211", Meal: MealNonVeg},
				},
			}
			normalizeTeam(team)

			Expect(team.TeamName).To(Equal("Team Rocket"))
			Expect(team.Members[0]).To(Equal(Member{Name: "Asha", Email: "asha@example.com", Phone: "9876543210", Meal: MealVeg}))
			Expect(team.Members[1].Phone).To(Equal("+919876543211"))
			Expect(validateTeam(team)).To(Succeed())
		})
	})

	Describe("assignSlot", func() {
		DescribeTable("numbering",
			func(confirmed, capacity, number int, waitlisted bool) {
				team := &Team{}
				assignSlot(team, confirmed, capacity)
				Expect(team.TeamNumber).To(Equal(number))
				Expect(team.Waitlisted).To(Equal(waitlisted))
			},
			Entry("first team", 0, 20, 1, false),
			Entry("last slot", 19, 20, 20, false),
			Entry("event full", 20, 20, 0, true),
			Entry("over capacity", 25, 20, 0, true),
		)
	})

	Describe("summarize", func() {
		It("should count only confirmed teams toward revenue", func() {
			teams := []*Team{
				{TeamNumber: 1, Members: validMembers()},
				{TeamNumber: 2, Members: validMembers()},
				{Waitlisted: true, Members: validMembers()},
			}
			summary := summarize(teams, 400)
			Expect(summary.Teams).To(Equal(3))
			Expect(summary.Confirmed).To(Equal(2))
			Expect(summary.Waitlisted).To(Equal(1))
			Expect(summary.Participants).To(Equal(6))
			Expect(summary.Veg).To(Equal(3))
			Expect(summary.NonVeg).To(Equal(3))
			Expect(summary.Revenue).To(Equal(800))
		})

		It("should return zeros for no teams", func() {
			Expect(summarize(nil, 400)).To(Equal(Summary{}))
		})
	})
})
