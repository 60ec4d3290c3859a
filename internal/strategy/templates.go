package strategy

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

var difficultyRand = rand.Float64

// difficultyWeights favor easier OWASP explanations.
var difficultyWeights = []float64{0.30, 0.25, 0.20, 0.15, 0.10}

// randomDifficulty returns a level in [1, 5] drawn from difficultyWeights.
func randomDifficulty() int {
	r := difficultyRand()
	var cum float64
	for i, w := range difficultyWeights {
		cum += w
		if r < cum {
			return i + 1
		}
	}
	return len(difficultyWeights)
}

func assignmentPreamble() string {
	return strings.Join([]string{
		"You are a teaching assistant for a secure software development course.",
		"Answer the student's assignment question using only the course knowledge base.",
		"Guide the student toward the answer. Do not hand out complete solutions.",
		"If the knowledge base does not cover the question, say so and suggest asking the instructor.",
	}, "\n")
}

func cloudOpsPreamble() string {
	return "Use the knowledge base to answer the question below as clearly and completely as possible."
}

func owaspPrompt(question string) string {
	return owaspPromptWithDifficulty(question, randomDifficulty())
}

func owaspPromptWithDifficulty(question string, difficulty int) string {
	return strings.Join([]string{
		"You are an application security tutor who explains the OWASP Top 10.",
		"",
		fmt.Sprintf("Difficulty level: %d (1 = beginner, 5 = expert).", difficulty),
		"Match the depth and vocabulary of your explanation to the difficulty level.",
		"",
		"Structure your answer as:",
		"- A short explanation of the concept",
		"- Which OWASP Top 10 category it relates to",
		"- A concrete example of the weakness",
		"- How to prevent or mitigate it",
		"",
		"Question: " + question,
	}, "\n")
}

func codeReviewPrompt(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		code = "[Code not provided]"
	}
	return strings.Join([]string{
		"You are a secure coding reviewer.",
		"",
		"Use your knowledge of secure coding practices and the OWASP Top 10 to review the student's code.",
		"Focus on identifying security flaws, anti-patterns, and missing safeguards.",
		"",
		"Specifically consider:",
		"- A01: Broken Access Control",
		"- A02: Cryptographic Failures",
		"- A03: Injection",
		"- A04: Insecure Design",
		"- A05: Security Misconfiguration",
		"- A06: Vulnerable and Outdated Components",
		"- A07: Identification and Authentication Failures",
		"- A08: Software and Data Integrity Failures",
		"- A09: Security Logging and Monitoring Failures",
		"- A10: Server-Side Request Forgery (SSRF)",
		"",
		"Student Code:",
		code,
		"",
		"Give your review:",
		"- What the code does (summary)",
		"- Potential vulnerabilities",
		"- Recommendations for improvement",
	}, "\n")
}

func quizPrompt(count int, notes string) string {
	return strings.Join([]string{
		"You are a secure coding lab assistant.",
		"",
		fmt.Sprintf("Generate exactly %d multiple-choice questions in valid JSON format based on the provided lab notes.", count),
		"",
		"Each question must follow this structure:",
		`{"question": "What is ...?", "choices": ["Option A", "Option B", "Option C", "Option D"], "answer": "Option A", "explanation": "Why this answer is correct."}`,
		"",
		`Return the final result as a JSON object: {"questions": [ ... ]}`,
		"",
		"Only return the valid JSON. Do not include markdown formatting, explanations, comments, or extra text.",
		"",
		"Lab notes:",
		`"""` + notes + `"""`,
	}, "\n")
}
