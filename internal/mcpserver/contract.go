package mcpserver

// RecordFormatContract describes the records of the assembled dataset for
// LLM consumers.
const RecordFormatContract = `# scenecorpus Record Format

Every line of final/dataset.jsonl is one JSON object with these fields:

` + "```" + `json
{
  "description": "Natural-language description of the scene",
  "code": "from manim import *\n\nclass Example(Scene):\n    def construct(self):\n        ...",
  "source_id": "bench",
  "priority": 5,
  "split": "train",
  "metadata": {}
}
` + "```" + `

## Rules

1. **code** is bare Python source. It never carries a markdown fence.
2. **code** parses, and defines at least one class that derives, directly or
   through classes in the same module, from a known scene base.
3. **description** is non-empty. A description starting with
   ` + "`" + `[NEEDS_DESCRIPTION]` + "`" + ` is a placeholder awaiting backfill.
4. **split** is one of ` + "`" + `train` + "`" + `, ` + "`" + `test` + "`" + `, ` + "`" + `unassigned` + "`" + `.
5. **priority** is the priority of the source the record came from. When two
   records collided on description or code, the higher priority one was kept.
6. No two records share a normalized description (placeholders excepted) or a
   normalized code body.
7. **metadata** is an object; its keys depend on the source. Common keys:
   ` + "`" + `scene_name` + "`" + `, ` + "`" + `still` + "`" + `, ` + "`" + `source_page` + "`" + `, ` + "`" + `url` + "`" + `, ` + "`" + `file` + "`" + `.

## Ids

Tools address records by **row id**, the zero-based line number in
final/dataset.jsonl. Ids change when the dataset is reassembled.
`
