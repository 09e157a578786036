package mcpserver

// ContactFormatContract describes the contact record files that cardsync
// reads and how their fields map to vCard properties.
const ContactFormatContract = `# cardsync Contact Record Format

Each contact is one file in the contacts directory named ` + "`" + `<id>.yaml` + "`" + `,
` + "`" + `<id>.yml` + "`" + ` or ` + "`" + `<id>.json` + "`" + `. The file name is the contact id unless the
record sets ` + "`" + `id` + "`" + `. Every field is optional; an absent field produces no vCard property.

## Fields

| Field | vCard | Notes |
|---|---|---|
| name | FN | list, one FN per entry |
| familyName, givenName, additionalName, honorificPrefix, honorificSuffix | N | lists, joined with commas |
| nickname | NICKNAME | list |
| bday, anniversary | BDAY, ANNIVERSARY | date ` + "`" + `YYYY-MM-DD` + "`" + `, millisecond timestamp, or preformatted string |
| sex, genderIdentity | GENDER | sex is one of M, F, O, N, U |
| adr | ADR | entries with type, pref, streetAddress, locality, region, postalCode, countryName |
| tel | TEL | entries with type, pref, value, carrier |
| email, impp, url | EMAIL, IMPP, URL | entries with type, pref, value |
| jobTitle, org, note, key | TITLE, ORG, NOTE, KEY | lists, one property per entry |
| updated | REV | timestamp, emitted in UTC |
| id | UID | |
| categories | CATEGORIES | list |

Single values are accepted wherever a list is expected: ` + "`" + `type: work` + "`" + ` equals ` + "`" + `type: [work]` + "`" + `.

## Example

` + "```" + `yaml
name: Kevin R. Phillips-Bong
givenName: Kevin
familyName: Phillips-Bong
bday: 1927-04-01
sex: M
tel:
  - type: [work, voice]
    value: "+44 20 7946 0000"
email:
  - type: work
    pref: true
    value: kevin@example.com
` + "```" + `
`
