package analyzer

import (
	"strings"

	"github.com/pavelanni/oralexam/internal/model"
)

// buildGradingPrompt builds the grading instruction for one topic. The reply
// contract is strict JSON with fixed keys; the persisted record and the
// scorecard both depend on this shape.
func buildGradingPrompt(plan model.TopicPlan) string {
	var sb strings.Builder
	sb.WriteString("You are grading a middle-school oral exam. The student was asked to give ")
	sb.WriteString("a short spoken presentation on the following topic:\n\n")
	sb.WriteString("TOPIC: " + plan.Topic + "\n\n")
	sb.WriteString("EXPECTED OUTLINE:\n")
	sb.WriteString("- Introduction: " + plan.Introduction + "\n")
	sb.WriteString("- Body: " + plan.Body + "\n")
	sb.WriteString("- Conclusion: " + plan.Conclusion + "\n\n")

	sb.WriteString("Rate the speech on four criteria, each as an integer from 1 (weak) to 3 (strong):\n")
	sb.WriteString("- konu_icerik: coverage of the topic and the expected outline\n")
	sb.WriteString("- duzen: organization into introduction, body and conclusion\n")
	sb.WriteString("- dil: vocabulary and grammar\n")
	sb.WriteString("- akicilik: fluency and pacing\n\n")

	sb.WriteString("Compute yuzluk_sistem_puani as round(sum of the four criteria / 12 * 100).\n")
	sb.WriteString("Write ogretmen_yorumu as two or three encouraging sentences in Turkish, ")
	sb.WriteString("addressed to the student.\n\n")

	sb.WriteString("Respond ONLY with a JSON object, no markdown fences, with exactly these keys:\n")
	sb.WriteString(`{"transcript": "<full transcript>", "kriter_puanlari": {"konu_icerik": <1-3>, "duzen": <1-3>, "dil": <1-3>, "akicilik": <1-3>}, "yuzluk_sistem_puani": <0-100>, "ogretmen_yorumu": "<comment>"}`)
	sb.WriteString("\n")

	return sb.String()
}

// buildSubmissionMessage carries the audio asset reference and the transcript
// of the student's speech.
func buildSubmissionMessage(assetID, transcript string) string {
	var sb strings.Builder
	sb.WriteString("AUDIO ASSET: " + assetID + "\n\n")
	sb.WriteString("TRANSCRIPT OF THE STUDENT'S SPEECH:\n")
	sb.WriteString(transcript)
	sb.WriteString("\n")
	return sb.String()
}
