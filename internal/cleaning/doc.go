// Package cleaning turns sparse per-question raw responses into validated
// per-student, per-subject records.
//
// A batch run discovers the batch's subject configuration, clears the batch's
// previously cleaned data inside a single replace transaction, and cleans each
// subject in ascending name order:
//
//	exam / interactive  one CleanedRecord per student, total = sum of scorable items
//	questionnaire       one QuestionnaireItemRecord per (student, item), the per-item
//	                    option distribution, and a per-student summary CleanedRecord
//
// Records whose total falls outside [0, max] are kept with IsValid=false.
// A failing subject is reported and skipped; configuration or storage failures
// abort the run and roll the replace transaction back.
package cleaning
