package normalize

import (
	"fmt"
	"strings"
)

const systemPrompt = "You are a financial statement parser. You read text extracted from bank statements " +
	"and return the statement as STRICT JSON. You never invent transactions or balances."

const instructions = "Task:\n" +
	"- Extract every account and every transaction from the statement text below.\n" +
	"- Output STRICT JSON only (no comments, no trailing commas, no extra text).\n" +
	"- Output one JSON object: {\"fileName\": string, \"accounts\": [Account]}.\n\n" +
	"Each Account has these fields:\n" +
	"- \"bankName\", \"accountHolderName\", \"accountNumber\", \"currency\": string or null\n" +
	"- \"accountType\": \"checking\", \"savings\" or null\n" +
	"- \"statementStartDate\", \"statementEndDate\": string \"YYYY-MM-DD\" or null\n" +
	"- \"openingBalance\", \"closingBalance\": number or null\n" +
	"- \"transactions\": array of Transaction (may be empty)\n\n" +
	"Each Transaction has these fields:\n" +
	"- \"date\": string, ISO format \"YYYY-MM-DD\"\n" +
	"- \"description\": string, never empty\n" +
	"- \"debit\": number or null (money OUT, positive)\n" +
	"- \"credit\": number or null (money IN, positive)\n" +
	"- \"balance\": number or null (running balance after the transaction)\n\n" +
	"Rules:\n" +
	"- A transaction has a debit or a credit, never both. Set the other to null.\n" +
	"- If the statement has a single signed amount column, negative amounts are debits.\n" +
	"- Dates on the statement are day-first unless the statement says otherwise.\n" +
	"- If a value cannot be determined, set it to null.\n" +
	"- If the document contains multiple accounts, attribute transactions correctly.\n" +
	"- Rows are given as \"[page:line] cell | cell | cell\".\n\n" +
	"Return ONLY valid raw JSON.\n" +
	"Do NOT wrap the response in code fences.\n"

// buildPrompt renders the analysis blocks for the model. feedback, when not
// empty, explains why the previous answer was rejected.
func buildPrompt(req Request, feedback string) string {
	var b strings.Builder
	b.WriteString(instructions)
	fmt.Fprintf(&b, "\nFile name: %s\n", req.FileName)
	if req.PageCount > 0 {
		fmt.Fprintf(&b, "Pages: %d\n", req.PageCount)
	}
	b.WriteString("\nStatement text:\n")
	for _, block := range req.Blocks {
		fmt.Fprintf(&b, "[%d:%d] ", block.Page, block.Line)
		if len(block.Cells) > 1 {
			b.WriteString(strings.Join(block.Cells, " | "))
		} else {
			b.WriteString(block.Text)
		}
		b.WriteByte('\n')
	}
	if feedback != "" {
		fmt.Fprintf(&b, "\nYour previous answer was rejected: %s\nReturn corrected JSON only.\n", feedback)
	}
	return b.String()
}

// cleanModelJSON strips Markdown fences and any text around the outermost
// JSON object. It reports whether anything beyond whitespace was removed.
func cleanModelJSON(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	original := s

	// Handle ```json ... ``` or ``` ... ``` wrappers.
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s, false
		}
		s = strings.TrimSpace(s)
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}

	return s, s != original
}
