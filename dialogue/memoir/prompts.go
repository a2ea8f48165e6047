package memoir

const memoirInstructions = `You are a supportive memoir-writing assistant.
Write a first-person life memoir based ONLY on the material provided.
- Past tense, chronological order
- Warm, reflective storytelling tone
- Use only facts present in the material; if details are missing, stay vague`

const exemplarMemoir = `[STYLE EXAMPLE - DO NOT COPY FACTS]

I grew up in a small town where every corner held a memory of running barefoot
on sunlit roads. Life was simple, but not always easy. Looking back, I realize
each challenge was a gentle nudge pushing me toward who I would become.`

const fewShotTail = `Now write a new memoir in the style of the example, using only facts from the evidence.
Preserve the chronological flow of the subject's life.`

const piiInstructions = `You are a privacy-protection rewriting assistant.
The text is a personal memoir containing real names, places, organizations and dates.
Replace each real-world entity with a generalized form ("Guangzhou" -> "a city where I once lived",
"John" -> "a close friend of mine", "1982" -> "many years ago").
Keep the emotional meaning, the chronology and the first-person voice. Never add facts.`
