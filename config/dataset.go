package config

import (
	"github.com/pkg/errors"

	"github.com/semanticscholar/s2orc-pipeline/cmn/debug"
)

// Dataset enumerates the kinds named in spec §3.
type Dataset string

const (
	Papers               Dataset = "papers"
	Abstracts            Dataset = "abstracts"
	TLDRs                Dataset = "tldrs"
	Authors              Dataset = "authors"
	PublicationVenues    Dataset = "publication_venues"
	Citations            Dataset = "citations"
	S2ORC                Dataset = "s2orc"
	S2ORCV2              Dataset = "s2orc_v2"
	EmbeddingsSpecterV1  Dataset = "embeddings_specter_v1"
	EmbeddingsSpecterV2  Dataset = "embeddings_specter_v2"
	PaperIDs             Dataset = "paper_ids"
)

// DatasetInfo carries the per-dataset facts §4.3 and §4.2 hang behavior off
// of: the SQL table, its primary-key column, and the payload column COPY
// writes into.
type DatasetInfo struct {
	Table        string
	PrimaryKey   string
	PayloadCol   string
	HasSecondary bool   // citations: secondary index on citingcorpusid
	SecondaryCol string
}

var registry = map[Dataset]DatasetInfo{
	Papers:              {Table: "papers", PrimaryKey: "corpusid", PayloadCol: "payload"},
	Abstracts:           {Table: "abstracts", PrimaryKey: "corpusid", PayloadCol: "payload"},
	TLDRs:               {Table: "tldrs", PrimaryKey: "corpusid", PayloadCol: "payload"},
	Authors:             {Table: "authors", PrimaryKey: "authorid", PayloadCol: "payload"},
	PublicationVenues:   {Table: "publication_venues", PrimaryKey: "publicationvenueid", PayloadCol: "payload"},
	Citations:           {Table: "citations", PrimaryKey: "id", PayloadCol: "payload", HasSecondary: true, SecondaryCol: "citingcorpusid"},
	S2ORC:               {Table: "s2orc", PrimaryKey: "corpusid", PayloadCol: "content"},
	S2ORCV2:             {Table: "s2orc_v2", PrimaryKey: "corpusid", PayloadCol: "content"},
	EmbeddingsSpecterV1: {Table: "embeddings_specter_v1", PrimaryKey: "corpusid", PayloadCol: "vector"},
	EmbeddingsSpecterV2: {Table: "embeddings_specter_v2", PrimaryKey: "corpusid", PayloadCol: "vector"},
	PaperIDs:            {Table: "paper_ids", PrimaryKey: "corpusid", PayloadCol: "payload"},
}

// Lookup fails fast (Programmer error class, spec §7) on an unknown dataset
// name so cmd/* can abort before touching the database.
func Lookup(name string) (Dataset, DatasetInfo, error) {
	d := Dataset(name)
	info, ok := registry[d]
	if !ok {
		return "", DatasetInfo{}, errors.Errorf("unknown dataset %q", name)
	}
	debug.Assertf(info.Table != "" && info.PrimaryKey != "" && info.PayloadCol != "",
		"config: registry entry for %q is missing a required column", d)
	debug.Assertf(!info.HasSecondary || info.SecondaryCol != "",
		"config: registry entry for %q declares HasSecondary with no SecondaryCol", d)
	return d, info, nil
}
