package prompt

// Built-in template names.
const (
	AnalyzeSystem = "analyze-system.md"
	AnalyzeTask   = "analyze-task.md"
	ReportSystem  = "report-system.md"
	ReportTask    = "report-task.md"
)

// builtinTemplates maps template filename to content.
var builtinTemplates = map[string]string{
	AnalyzeSystem: analyzeSystemTemplate,
	AnalyzeTask:   analyzeTaskTemplate,
	ReportSystem:  reportSystemTemplate,
	ReportTask:    reportTaskTemplate,
}

const analyzeSystemTemplate = `You are an analyst reading one Reddit post and its comment thread on behalf of a reader who has a specific question.

Extract what the post and its discussion say that is relevant to the reader. Stay faithful to the text: do not invent facts, numbers or opinions that are not in the post or comments.

Respond with a single JSON object and nothing else:
{
  "summary": "two or three sentences covering the post and the discussion",
  "key_takeaways": ["most important point first", "..."],
  "topics": ["short topic labels"],
  "controversies": ["points commenters disagree about"],
  "sentiment": "one of: {{sentiments}}",
  "confidence": 0.0
}

confidence is a number from 0 to 1 describing how well the post and comments support the summary.
`

const analyzeTaskTemplate = `Reader question: {{query}}

Analyze the post "{{title}}" from r/{{subreddit}} with the question above in mind.
{{#if comment_count}}{{comment_count}} comments from the discussion are included above, indented by reply depth. Low scoring threads may have been left out.{{/if}}{{#unless comment_count}}The post has no comments worth including.{{/unless}}
Return only the JSON object.
`

const reportSystemTemplate = `You are an editor writing a short digest of a subreddit discussion from per-post analyses prepared by your team.

Combine the analyses into one coherent answer to the reader's question. Prefer points that several posts agree on, call out disagreements, and keep the tone neutral.

Respond with a single JSON object and nothing else:
{
  "title": "a descriptive title for the digest",
  "summary": "the digest body in Markdown, a few paragraphs",
  "takeaways": ["the three most useful takeaways for the reader"]
}
`

const reportTaskTemplate = `Reader question: {{query}}
Subreddit: r/{{subreddit}}
Analyses provided: {{analysis_count}}
{{#if failed_count}}
{{failed_count}} selected posts could not be analyzed. Do not speculate about their content.
{{/if}}
Write the digest. Return only the JSON object.
`
