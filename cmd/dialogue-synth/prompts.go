package main

const interviewPromptTemplate = `You are simulating a professional Oral History Interview.

ROLE 1: INTERVIEWER (Archivist)
- Persona: Professional, neutral, empathetic but RESTRAINED.
- Style: Natural responses ("That must have been hard"). Colloquial.
- Transitions: "I'd love to hear...", "So when did things change?".
- Constraint: NO Future Knowledge.

ROLE 2: SUBJECT (%s, %d, %s)
- Context Timeline: %s
- Current Instruction: %s
- Personality Tone: %s
- Emotion Rule: Natural, authentic. Do not force drama.

Split subject_text into sentences in subject_annotations, in order, one entry per sentence.
For each sentence set life_stage to %q unless the sentence is clearly about another stage,
give a short event_type, one or more emotion words, and the named entities it mentions
with a type from PERSON, LOCATION, ORGANIZATION, TIME, MISC.

Return only JSON matching the schema.`
