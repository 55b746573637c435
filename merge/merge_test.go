package merge

import (
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"
)

var _ = Describe("applyUpdates", func() {
	raw := func(s string) jsoniter.RawMessage { return jsoniter.RawMessage(s) }

	It("copies citation fields unconditionally from SRC", func() {
		rec := map[string]jsoniter.RawMessage{"citations": raw(`[1]`)}
		src := map[string]jsoniter.RawMessage{"citations": raw(`[1,2,3]`)}
		applyUpdates(rec, src, nil)
		Expect(rec["citations"]).To(Equal(raw(`[1,2,3]`)))
	})

	DescribeTable("copies a DB field only when the target's existing value is empty",
		func(existing jsoniter.RawMessage, present bool, wantOverwritten bool) {
			rec := map[string]jsoniter.RawMessage{}
			if present {
				rec["content"] = existing
			}
			db := map[string]jsoniter.RawMessage{"content": raw(`"from db"`)}
			applyUpdates(rec, nil, db)
			if wantOverwritten {
				Expect(rec["content"]).To(Equal(raw(`"from db"`)))
			} else {
				Expect(rec["content"]).To(Equal(existing))
			}
		},
		Entry("absent field gets filled", jsoniter.RawMessage(nil), false, true),
		Entry("null value gets filled", raw(`null`), true, true),
		Entry("empty string gets filled", raw(`""`), true, true),
		Entry("non-empty value is left alone", raw(`"already here"`), true, false),
	)

	It("leaves fields untouched when neither src nor db has a value", func() {
		rec := map[string]jsoniter.RawMessage{"corpusid": raw(`5`)}
		applyUpdates(rec, nil, nil)
		Expect(rec).To(HaveLen(1))
		Expect(rec["corpusid"]).To(Equal(raw(`5`)))
	})
})

var _ = Describe("readSource", func() {
	It("indexes CITATION_FIELDS by corpusid and skips records with no citation data", func() {
		dir := os.TempDir()
		path := filepath.Join(dir, "merge_test_source.jsonl")
		content := "" +
			`{"corpusid":1,"citations":[1,2],"references":[]}` + "\n" +
			`{"corpusid":2,"citations":[],"references":[]}` + "\n" +
			`{"corpusid":3,"detailsOfCitations":"x"}` + "\n" +
			"\n"
		Expect(os.WriteFile(path, []byte(content), 0o644)).To(Succeed())
		defer os.Remove(path)

		m := &Merger{}
		updates, ids, err := m.readSource(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(ids).To(ConsistOf(int64(1), int64(3)))
		Expect(updates).To(HaveKey(int64(1)))
		Expect(updates[int64(1)]).To(HaveKey("citations"))
		Expect(updates).NotTo(HaveKey(int64(2)), "corpusid 2 has only empty arrays, nothing to merge")
	})
})

var _ = Describe("rewriteTarget + atomicReplace", func() {
	It("rewrites a target shard in place via temp-file-then-rename", func() {
		dir, err := os.MkdirTemp("", "merge-rewrite-*")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(dir)
		targetPath := filepath.Join(dir, "shard.jsonl")
		original := `{"corpusid":1,"content":""}` + "\n" + `{"corpusid":2,"content":"keep me"}` + "\n"
		Expect(os.WriteFile(targetPath, []byte(original), 0o644)).To(Succeed())

		m := &Merger{}
		srcUpdates := map[int64]map[string]jsoniter.RawMessage{
			1: {"citations": jsoniter.RawMessage(`[9]`)},
		}
		dbValues := map[int64]map[string]jsoniter.RawMessage{
			1: {"content": jsoniter.RawMessage(`"filled from db"`)},
			2: {"content": jsoniter.RawMessage(`"should not overwrite"`)},
		}

		tmpPath, err := m.rewriteTarget(targetPath, srcUpdates, dbValues)
		Expect(err).NotTo(HaveOccurred())
		Expect(tmpPath).To(BeAnExistingFile())

		Expect(atomicReplace(tmpPath, targetPath)).To(Succeed())

		data, err := os.ReadFile(targetPath)
		Expect(err).NotTo(HaveOccurred())
		s := string(data)
		Expect(s).To(ContainSubstring(`"content":"filled from db"`))
		Expect(s).To(ContainSubstring(`"content":"keep me"`))
		Expect(s).To(ContainSubstring(`"citations":[9]`))
	})
})
