package generator

import (
	"fmt"
	"strings"

	"qcache/internal/types"
)

const userPrompt = "Generate a challenging English learning question suitable for an intermediate to advanced learner."

// outputSchema lists the fields the model must return, in the order they are
// described to it.
const outputSchema = `{"sentence_with_blank": string, "options": [string, string, string, string], "answer": string, ` +
	`"explanation": string, "original_English_sentence": string, "translation_options": [string, string, string], ` +
	`"correct_translation_option": string, "difficulty": string, "knowledge_point": string}`

func describeDifficulty(difficulty string) (level, length string) {
	switch strings.ToLower(difficulty) {
	case types.DifficultyMedium:
		return "medium difficulty (A2-B1 CEFR level)", " Sentences should not exceed 20 words."
	case types.DifficultyHard:
		return "hard difficulty (B2 CEFR level)", " Sentences can be more complex and longer, suitable for B2 level."
	case types.DifficultyAdvanced:
		return "advanced difficulty (C1 CEFR level)",
			" Sentences should be complex and demonstrate a wide range of vocabulary and structure, suitable for C1 level."
	default:
		return "intermediate to advanced difficulty (B1-C1 CEFR level)", ""
	}
}

// systemPrompt asks for exactly one question of the given difficulty, on topic
// unless it is the general one, avoiding the sentences in history.
func systemPrompt(topic, difficulty string, history []string) string {
	level, length := describeDifficulty(difficulty)

	var b strings.Builder
	fmt.Fprintf(&b, "You are an assistant that generates English learning questions of %s. Provide exactly 1 question. ", level)
	fmt.Fprintf(&b, "The generated English sentences should be reasonably complex, utilizing varied sentence structures "+
		"(e.g., compound sentences, complex sentences with subordinate clauses) and a good range of vocabulary "+
		"suitable for the specified CEFR level.%s ", length)
	b.WriteString("For the blank-filling part (sentence_with_blank), ensure the blank can appear in various grammatical " +
		"positions within the sentence, such as for a predicate, object, attribute, conjunction, etc. ")
	b.WriteString("For this question, include: a sentence with a blank written as ____ (sentence_with_blank), " +
		"four options for the blank (options), the correct option for the blank (answer), " +
		"an explanation in Chinese of why the answer is correct (explanation), " +
		"the original English sentence (original_English_sentence, the same as sentence_with_blank with the blank filled by the answer), " +
		"three Chinese translation options for this sentence that differ clearly in logic and structure (translation_options), " +
		"the correct Chinese translation option (correct_translation_option), " +
		"the difficulty level (difficulty, e.g., medium, hard, advanced), " +
		"and the main knowledge point tested (knowledge_point). ")
	b.WriteString("Ensure the output is a single JSON object matching the following schema, do NOT nest it under any other keys: ")
	b.WriteString(outputSchema)

	if topic != "" && !strings.EqualFold(topic, types.DefaultTopic) {
		fmt.Fprintf(&b, " The question should be related to the topic: '%s'.", topic)
	}
	if len(history) > 0 {
		b.WriteString("\n\nBased on the following historical questions, avoid generating questions that are similar or identical to them:")
		for _, s := range history {
			b.WriteString("\n- ")
			b.WriteString(s)
		}
	}
	return b.String()
}
