package cos_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"

	"github.com/semanticscholar/s2orc-pipeline/cmn/cos"
)

var _ = Describe("ScanCorpusID", func() {
	DescribeTable("extracts the integer value",
		func(line string, wantID int64, wantOK bool) {
			id, ok := cos.ScanCorpusID([]byte(line))
			Expect(ok).To(Equal(wantOK))
			if wantOK {
				Expect(id).To(Equal(wantID))
			}
		},
		Entry("simple", `{"corpusid":123,"title":"x"}`, int64(123), true),
		Entry("with space after colon", `{"corpusid": 456}`, int64(456), true),
		Entry("negative", `{"corpusid":-7}`, int64(-7), true),
		Entry("zero", `{"corpusid":0,"x":1}`, int64(0), true),
		Entry("missing key", `{"id":1}`, int64(0), false),
		Entry("key present but not followed by digits", `{"corpusid":"abc"}`, int64(0), false),
		Entry("key is case-insensitive per scan design", `{"CorpusId":99}`, int64(99), true),
	)

	It("stops at the first occurrence, ignoring later keys", func() {
		id, ok := cos.ScanCorpusID([]byte(`{"corpusid":1,"citingcorpusid":2}`))
		Expect(ok).To(BeTrue())
		Expect(id).To(Equal(int64(1)))
	})
})

var _ = Describe("ScanIntKey", func() {
	It("extracts an arbitrary integer-valued key", func() {
		id, ok := cos.ScanIntKey([]byte(`{"citingcorpusid":42,"citedcorpusid":7}`), "citedcorpusid")
		Expect(ok).To(BeTrue())
		Expect(id).To(Equal(int64(7)))
	})

	It("reports false on an empty line", func() {
		_, ok := cos.ScanIntKey([]byte(``), "corpusid")
		Expect(ok).To(BeFalse())
	})
})
