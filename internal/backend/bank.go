package backend

import (
	"fmt"

	"quiz-sync/internal/domain"
)

// SampleBanks is the built-in question bank used when no Postgres loader is
// configured, and the seed data for the migrate command.
func SampleBanks() map[string]domain.Quiz {
	general := domain.Quiz{ID: "bank-general", Category: "general", Difficulty: "easy"}
	for i, q := range []struct {
		prompt  string
		options []string
		correct int
	}{
		{"What is 2 + 2?", []string{"3", "4", "5", "22"}, 1},
		{"Which planet is known as the red planet?", []string{"Venus", "Jupiter", "Mars", "Mercury"}, 2},
		{"How many continents are there?", []string{"5", "6", "7", "8"}, 2},
		{"What colour do you get by mixing blue and yellow?", []string{"Green", "Purple", "Orange", "Brown"}, 0},
		{"How many sides does a hexagon have?", []string{"5", "6", "7", "8"}, 1},
		{"Which ocean is the largest?", []string{"Atlantic", "Indian", "Arctic", "Pacific"}, 3},
	} {
		general.Questions = append(general.Questions, bankQuestion("g", i, q.prompt, q.options, q.correct))
	}

	science := domain.Quiz{ID: "bank-science", Category: "science", Difficulty: "medium"}
	for i, q := range []struct {
		prompt  string
		options []string
		correct int
	}{
		{"What is the chemical symbol for gold?", []string{"Ag", "Au", "Gd", "Go"}, 1},
		{"What gas do plants absorb from the air?", []string{"Oxygen", "Nitrogen", "Carbon dioxide", "Helium"}, 2},
		{"What is the speed of light in vacuum, roughly?", []string{"300,000 km/s", "30,000 km/s", "3,000 km/s", "300 km/s"}, 0},
		{"Which particle has a negative charge?", []string{"Proton", "Neutron", "Electron", "Photon"}, 2},
		{"What is H2O better known as?", []string{"Salt", "Water", "Hydrogen peroxide", "Ammonia"}, 1},
	} {
		science.Questions = append(science.Questions, bankQuestion("s", i, q.prompt, q.options, q.correct))
	}

	return map[string]domain.Quiz{general.ID: general, science.ID: science}
}

func bankQuestion(prefix string, i int, prompt string, options []string, correct int) domain.Question {
	q := domain.Question{ID: fmt.Sprintf("%s%d", prefix, i+1), Prompt: prompt, TimeLimitSec: 15}
	for j, text := range options {
		q.Options = append(q.Options, domain.Option{ID: fmt.Sprintf("o%d", j+1), Text: text, Correct: j == correct})
	}
	return q
}
