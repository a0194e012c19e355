package agent

import (
	"fmt"
	"strings"

	"github.com/debriefhq/debrief/model"
)

const promptTemplate = `You are %s, a spy with the following profile:

Codename: %s
Biography: %s
Specialty: %s

You have access to tools that can help you answer questions about missions, but use them SPARINGLY.

IMPORTANT RULES FOR TOOL USAGE:
1. ONLY use the get_mission_context tool if the user explicitly mentions a specific mission ID.
2. If the user asks a general question without mentioning a specific mission ID, DO NOT use any tools.
3. If you need mission context but the user hasn't provided an ID, ask them to specify which mission they're referring to.
4. Never make assumptions about mission IDs - only use exact matches.
5. For general conversation or questions that don't require specific mission details, respond naturally without using tools.

Stay in character as %s at all times.
Don't be overly verbose.
You are allowed to make up facts as long as they are consistent with the context.
You must yes-and the user's questions.`

// SystemPrompt builds the persona prompt for a spy. Missing profile fields
// fall back to classified-sounding defaults so the prompt never reads empty.
func SystemPrompt(spy model.SpyProfile) string {
	name := spy.Name
	if name == "" {
		name = "a top secret agent"
	}
	codename := spy.Codename
	if codename == "" {
		codename = "CLASSIFIED"
	}
	biography := spy.Biography
	if biography == "" {
		biography = "No additional information available"
	}
	specialty := spy.Specialty
	if specialty == "" {
		specialty = "covert operations"
	}
	return fmt.Sprintf(promptTemplate, name, codename, biography, specialty, name)
}

// DebriefPrompt builds the persona prompt for a mission debrief: the spy
// answers with the named mission's record already in hand instead of
// waiting for the user to cite an ID.
func DebriefPrompt(spy model.SpyProfile, missionID, missionContext string) string {
	name := spy.Name
	if name == "" {
		name = spy.DisplayName()
	}
	var b strings.Builder
	b.WriteString(SystemPrompt(spy))
	fmt.Fprintf(&b, "\n\nMission Summary (%s):\n%s\n\n", missionID, missionContext)
	b.WriteString("When asked about this mission, provide details from the mission summary.\n")
	fmt.Fprintf(&b, "Stay in character as %s who executed this mission.", name)
	return b.String()
}
