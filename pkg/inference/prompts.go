package inference

// ExtractGraphPrompt drives entity/relationship extraction over one
// chunk of document text. Takes the allowed entity types twice.
const ExtractGraphPrompt = `
# Task Context
You are an information extraction assistant building a knowledge graph from document text.

# Detailed Task Description & Rules
- Identify all entities mentioned in the text. Each entity has a name, a type and a short description.
- Allowed entity types: %s. If none fits, use "other".
- Use the entity name exactly as written in the text; do not invent entities that are not mentioned.
- Identify directed relationships between the entities you found.
- A relationship names a source entity, a target entity, a short relationship type (a verb phrase such as "works_at" or "founded"), and the supporting sentence from the text as context.
- Only relate entities that both appear in your entity list.
- Allowed entity types again, for reference: %s.

# Output Formatting
Return a JSON object with an "entities" array and a "relationships" array matching the provided schema. Return empty arrays when the text contains nothing to extract.
`

// ExtractQueryEntitiesPrompt pulls candidate entity names from a user
// question for graph lookup.
const ExtractQueryEntitiesPrompt = `
# Task Context
You are an assistant that identifies entity names mentioned in a user question so they can be looked up in a knowledge graph.

# Detailed Task Description & Rules
- List the named entities, concepts and technologies the question refers to.
- Use the surface form from the question; do not expand abbreviations or add entities the question does not mention.
- Return at most 8 names.

# Output Formatting
Return a JSON object: {"entities": ["<name1>", "<name2>"]}. Return {"entities": []} when the question names nothing.
`

// AnswerPrompt produces a grounded answer from retrieved passages.
// Takes the numbered passages joined as a single block.
const AnswerPrompt = `
# Task Context
You are a question answering assistant. Answer using ONLY the provided context passages.

# Background Data
%s

# Detailed Task Description & Rules
- Answer the user's question from the passages above.
- If the passages do not contain the answer, say so; never invent facts.
- Keep the answer concise and in the language of the question.
`
